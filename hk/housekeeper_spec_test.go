package hk_test

import (
	"sync/atomic"
	"time"

	"github.com/liuhatry/Aluminum/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("DefaultHK", func() {
	It("fires a registered callback repeatedly on its interval", func() {
		var calls int32
		hk.Reg("ginkgo-repeat", func() time.Duration {
			atomic.AddInt32(&calls, 1)
			return time.Millisecond
		}, time.Millisecond)
		defer hk.Unreg("ginkgo-repeat")

		Eventually(func() int32 {
			return atomic.LoadInt32(&calls)
		}, time.Second, time.Millisecond).Should(BeNumerically(">=", 3))
	})

	It("stops calling a job once Unreg is called", func() {
		var calls int32
		hk.Reg("ginkgo-unreg", func() time.Duration {
			atomic.AddInt32(&calls, 1)
			return time.Millisecond
		}, time.Millisecond)

		Eventually(func() int32 {
			return atomic.LoadInt32(&calls)
		}, time.Second, time.Millisecond).Should(BeNumerically(">=", 1))

		hk.Unreg("ginkgo-unreg")
		n := atomic.LoadInt32(&calls)
		Consistently(func() int32 {
			return atomic.LoadInt32(&calls)
		}, 30*time.Millisecond, time.Millisecond).Should(BeNumerically("<=", n+1))
	})

	It("lets a job unregister itself by returning a non-positive duration", func() {
		var calls int32
		hk.Reg("ginkgo-once", func() time.Duration {
			atomic.AddInt32(&calls, 1)
			return 0
		}, time.Millisecond)

		Eventually(func() int32 {
			return atomic.LoadInt32(&calls)
		}, time.Second, time.Millisecond).Should(Equal(int32(1)))

		Consistently(func() int32 {
			return atomic.LoadInt32(&calls)
		}, 30*time.Millisecond, time.Millisecond).Should(Equal(int32(1)))
	})
})
