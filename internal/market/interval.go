package market

// Interval 表示一个毫秒时间区间，nil 端点代表该侧未知（开放）。
// 用显式指针而不是哨兵时间，避免和真实日期混淆。
type Interval struct {
	Begin *int64
	End   *int64
}

// ClosedInterval returns a fully bounded interval.
func ClosedInterval(begin, end int64) Interval {
	return Interval{Begin: &begin, End: &end}
}

// OpenLeftInterval returns an interval unknown on the left.
func OpenLeftInterval(end int64) Interval {
	return Interval{End: &end}
}

// OpenRightInterval returns an interval unknown on the right.
func OpenRightInterval(begin int64) Interval {
	return Interval{Begin: &begin}
}

func (iv Interval) IsOpenLeft() bool  { return iv.Begin == nil }
func (iv Interval) IsOpenRight() bool { return iv.End == nil }
func (iv Interval) IsOpenBoth() bool  { return iv.Begin == nil && iv.End == nil }

// Clone returns a deep copy so callers can hold the bounds across mutations.
func (iv Interval) Clone() Interval {
	out := Interval{}
	if iv.Begin != nil {
		b := *iv.Begin
		out.Begin = &b
	}
	if iv.End != nil {
		e := *iv.End
		out.End = &e
	}
	return out
}
