package acktracker_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/waldow90/device-os/acktracker"
	"github.com/waldow90/device-os/protocolerr"
)

var _ = Describe("Tracker", func() {
	var tr *acktracker.Tracker

	BeforeEach(func() {
		tr = acktracker.New(4)
	})

	It("delivers success exactly once on SetResult", func() {
		calls := 0
		var lastErr error
		Expect(tr.Add(1, time.Second, func(err error) {
			calls++
			lastErr = err
		})).To(Succeed())

		tr.SetResult(1)
		tr.SetResult(1) // second completion for the same id is a no-op

		Expect(calls).To(Equal(1))
		Expect(lastErr).To(BeNil())
	})

	It("delivers a timeout when remaining time is exhausted", func() {
		var got error
		Expect(tr.Add(2, 100*time.Millisecond, func(err error) { got = err })).To(Succeed())

		tr.Update(60 * time.Millisecond)
		Expect(got).To(BeNil())

		tr.Update(60 * time.Millisecond)
		Expect(got).To(Equal(protocolerr.MessageTimeout))
	})

	It("rejects registration once at capacity", func() {
		for i := uint16(0); i < 4; i++ {
			Expect(tr.Add(i, time.Second, func(error) {})).To(Succeed())
		}
		err := tr.Add(99, time.Second, func(error) {})
		Expect(err).To(Equal(protocolerr.TrackerFull))
	})

	It("reports whether an id was tracked", func() {
		Expect(tr.SetResult(42)).To(BeFalse())

		Expect(tr.Add(42, time.Second, func(error) {})).To(Succeed())
		Expect(tr.SetResult(42)).To(BeTrue())
		Expect(tr.SetResult(42)).To(BeFalse()) // already completed
	})

	It("delivers session-ended to every outstanding handler on Clear", func() {
		var errs []error
		for i := uint16(0); i < 3; i++ {
			Expect(tr.Add(i, time.Second, func(err error) { errs = append(errs, err) })).To(Succeed())
		}
		tr.Clear()
		Expect(errs).To(HaveLen(3))
		for _, err := range errs {
			Expect(err).To(Equal(protocolerr.SessionEnded))
		}
		Expect(tr.Len()).To(Equal(0))
	})
})
