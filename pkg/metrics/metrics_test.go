// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservePass(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePass("home", 3, 0, nil, time.Second)
	m.ObservePass("home", 1, 2, nil, time.Second)
	m.ObservePass("home", 0, 0, errors.New("boom"), time.Second)
	m.ObservePass("work", 5, 0, nil, time.Second)

	if want, got := 1.0, testutil.ToFloat64(m.passes.WithLabelValues("home", ResultOK)); want != got {
		t.Errorf("ok passes: want %v, got %v", want, got)
	}
	if want, got := 1.0, testutil.ToFloat64(m.passes.WithLabelValues("home", ResultPartial)); want != got {
		t.Errorf("partial passes: want %v, got %v", want, got)
	}
	if want, got := 1.0, testutil.ToFloat64(m.passes.WithLabelValues("home", ResultError)); want != got {
		t.Errorf("error passes: want %v, got %v", want, got)
	}
	if want, got := 4.0, testutil.ToFloat64(m.stored.WithLabelValues("home")); want != got {
		t.Errorf("stored: want %v, got %v", want, got)
	}
	if want, got := 2.0, testutil.ToFloat64(m.failures.WithLabelValues("home")); want != got {
		t.Errorf("failures: want %v, got %v", want, got)
	}
	if want, got := 5.0, testutil.ToFloat64(m.stored.WithLabelValues("work")); want != got {
		t.Errorf("work stored: want %v, got %v", want, got)
	}
	if want, got := 2, testutil.CollectAndCount(m.duration); want != got {
		t.Errorf("duration series: want %d, got %d", want, got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObservePass("home", 1, 1, nil, time.Second)
}
