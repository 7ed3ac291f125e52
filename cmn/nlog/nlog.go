// Package nlog is a small leveled logger shared by every package in this
// module, descended from aistore's cmn/nlog but reduced to what a library
// (as opposed to a long-running cluster daemon) needs: no log-file rotation,
// no on-disk buffering - just timestamped, depth-aware lines to stderr,
// gated by severity.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const sevChar = "IWE"

var (
	mu      sync.Mutex
	minSev  = sevInfo
	title   string
	w       = os.Stderr
)

// SetTitle tags every subsequent line with a prefix, e.g. a communicator or
// process identifier - mirrors nlog.SetTitle in the teacher package.
func SetTitle(s string) { mu.Lock(); title = s; mu.Unlock() }

// SetQuiet raises the minimum severity to Warning, suppressing Infof/Infoln.
func SetQuiet(quiet bool) {
	mu.Lock()
	if quiet {
		minSev = sevWarn
	} else {
		minSev = sevInfo
	}
	mu.Unlock()
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth+1, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 1, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 1, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth+1, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 1, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }

// Flush is a no-op placeholder kept for parity with the teacher's nlog.Flush:
// this logger writes every line synchronously, so there is nothing to flush.
func Flush(...bool) {}

func log(sev severity, depth int, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if sev < minSev {
		return
	}
	var b strings.Builder
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(2 + depth); ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
	if title != "" {
		b.WriteByte('[')
		b.WriteString(title)
		b.WriteString("] ")
	}
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		if !strings.HasSuffix(format, "\n") {
			b.WriteByte('\n')
		}
	}
	w.WriteString(b.String())
}
