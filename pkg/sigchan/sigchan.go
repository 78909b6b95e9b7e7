// Package sigchan provides a coalescing wake-up signal: any number of Emit calls
// between two receives are delivered as one.
package sigchan

type Chan struct {
	c chan struct{}
}

func New() *Chan {
	return &Chan{c: make(chan struct{}, 1)}
}

// Emit 发送信号，不阻塞；已有未消费信号时返回 false
func (c *Chan) Emit() bool {
	if c == nil {
		return false
	}
	select {
	case c.c <- struct{}{}:
		return true
	default:
		return false
	}
}

// C 用于 select 接收信号。nil Chan 返回永不就绪的 channel
func (c *Chan) C() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.c
}
