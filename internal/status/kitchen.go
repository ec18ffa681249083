package status

import "fmt"

// KitchenStatus is the preparation state of a single line item.
type KitchenStatus string

const (
	KitchenNone      KitchenStatus = "none"
	KitchenWaiting   KitchenStatus = "waiting"
	KitchenCooking   KitchenStatus = "cooking"
	KitchenDone      KitchenStatus = "done"
	KitchenCancelled KitchenStatus = "cancelled"
)

var kitchenStatuses = []KitchenStatus{
	KitchenNone, KitchenWaiting, KitchenCooking, KitchenDone, KitchenCancelled,
}

func ParseKitchenStatus(s string) (KitchenStatus, error) {
	for _, st := range kitchenStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown kitchen status %q", s)
}

func (s KitchenStatus) Valid() bool {
	_, err := ParseKitchenStatus(string(s))
	return err == nil
}

// Cancellable is true until the kitchen has started cooking.
func (s KitchenStatus) Cancellable() bool {
	return s == KitchenNone || s == KitchenWaiting
}

type ItemEvent string

const (
	Queue        ItemEvent = "queue"
	StartCooking ItemEvent = "start_cooking"
	Finish       ItemEvent = "finish"
	CancelItem   ItemEvent = "cancel"
)

var itemEvents = []ItemEvent{Queue, StartCooking, Finish, CancelItem}

func ItemEvents() []ItemEvent {
	out := make([]ItemEvent, len(itemEvents))
	copy(out, itemEvents)
	return out
}

func ParseItemEvent(s string) (ItemEvent, error) {
	for _, ev := range itemEvents {
		if string(ev) == s {
			return ev, nil
		}
	}
	return "", fmt.Errorf("unknown item event %q", s)
}

// Next is the kitchen transition table, total over (status, event).
func (s KitchenStatus) Next(ev ItemEvent) (KitchenStatus, bool) {
	switch ev {
	case Queue:
		if s == KitchenNone {
			return KitchenWaiting, true
		}
	case StartCooking:
		if s == KitchenWaiting {
			return KitchenCooking, true
		}
	case Finish:
		if s == KitchenCooking {
			return KitchenDone, true
		}
	case CancelItem:
		if s.Cancellable() {
			return KitchenCancelled, true
		}
	}
	return "", false
}
