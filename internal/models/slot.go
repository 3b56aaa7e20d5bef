package models

import (
	"fmt"
	"time"
)

// Slot is one of the twelve fixed half-hour codes of a clinic day.
type Slot string

type slotTime struct {
	hour, minute int
}

var slotTimes = map[Slot]slotTime{
	"T1":  {8, 0},
	"T2":  {8, 30},
	"T3":  {9, 0},
	"T4":  {9, 30},
	"T5":  {10, 0},
	"T6":  {10, 30},
	"T7":  {13, 30},
	"T8":  {14, 0},
	"T9":  {14, 30},
	"T10": {15, 0},
	"T11": {15, 30},
	"T12": {16, 0},
}

// SlotDuration is the length of every slot.
const SlotDuration = 30 * time.Minute

// Slots returns the slot codes in clinic-day order.
func Slots() []Slot {
	out := make([]Slot, 0, len(slotTimes))
	for i := 1; i <= len(slotTimes); i++ {
		out = append(out, Slot(fmt.Sprintf("T%d", i)))
	}
	return out
}

// IsValid reports whether s is a known slot code.
func (s Slot) IsValid() bool {
	_, ok := slotTimes[s]
	return ok
}

// StartOn returns the wall-clock start of the slot on the given day.
func (s Slot) StartOn(day time.Time) (time.Time, error) {
	st, ok := slotTimes[s]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown slot %q", s)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, st.hour, st.minute, 0, 0, day.Location()), nil
}
