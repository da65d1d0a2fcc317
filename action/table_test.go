package action

import "testing"

type tag int

const (
	tagA tag = iota
	tagB
)

func TestQueueEndOrdering(t *testing.T) {
	var tbl Table[tag, func(*[]string)]
	var order []string

	tbl.On(tagA, func(o *[]string) { *o = append(*o, "tail") }, QueueEnd)
	tbl.On(tagA, func(o *[]string) { *o = append(*o, "default") }, Default)

	tbl.Execute(tagA, func(fn func(*[]string)) { fn(&order) })

	if len(order) != 2 || order[0] != "default" || order[1] != "tail" {
		t.Fatalf("order = %v, want [default tail]", order)
	}
}

func TestStopAfterPreventsLaterCallbacks(t *testing.T) {
	var tbl Table[tag, func(*int)]
	var calls int

	tbl.On(tagA, func(c *int) { *c++ }, StopAfter)
	tbl.On(tagA, func(c *int) { *c++ }, Default)
	tbl.On(tagA, func(c *int) { *c++ }, QueueEnd)

	tbl.Execute(tagA, func(fn func(*int)) { fn(&calls) })

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSkipRetainsButDoesNotInvoke(t *testing.T) {
	var tbl Table[tag, func(*int)]
	var calls int

	tbl.On(tagA, func(c *int) { *c++ }, Skip)
	tbl.On(tagA, func(c *int) { *c++ }, Default)

	tbl.Execute(tagA, func(fn func(*int)) { fn(&calls) })

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if got := tbl.Len(tagA); got != 2 {
		t.Fatalf("Len = %d, want 2 (skip entry retained)", got)
	}
}

func TestExecuteMissingTagIsNoop(t *testing.T) {
	var tbl Table[tag, func()]
	invoked := false
	tbl.Execute(tagB, func(fn func()) { invoked = true; fn() })
	if invoked {
		t.Fatal("Execute on an unbound tag should not invoke anything")
	}
}

func TestOnDuringDispatchDoesNotAffectCurrentRound(t *testing.T) {
	var tbl Table[tag, func()]
	var calls int

	var second func()
	second = func() { calls++ }

	tbl.On(tagA, func() {
		calls++
		tbl.On(tagA, second, Default)
	}, Default)

	tbl.Execute(tagA, func(fn func()) { fn() })
	if calls != 1 {
		t.Fatalf("calls after first Execute = %d, want 1", calls)
	}

	tbl.Execute(tagA, func(fn func()) { fn() })
	if calls != 3 {
		t.Fatalf("calls after second Execute = %d, want 3", calls)
	}
}
