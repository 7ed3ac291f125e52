package cos

import "sync"

// StopCh is a broadcast-once stop signal: Close is idempotent and Listen
// returns a channel that every waiter can select on. Grounded on aistore's
// own cos.StopCh, used the same way here by progress.Engine to tell its
// single background goroutine to drain and exit.
type StopCh struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopCh() *StopCh { return &StopCh{ch: make(chan struct{})} }

func (s *StopCh) Listen() <-chan struct{} { return s.ch }

func (s *StopCh) Close() { s.once.Do(func() { close(s.ch) }) }

// Runner is the minimal lifecycle every background worker in this module
// implements (the progress engine, the housekeeping registrar) - mirrors
// aistore's cos.Runner interface.
type Runner interface {
	Name() string
	Run() error
	Stop(error)
}
