package driver

import "github.com/robotalks/grinder/pkg/l0/comm"

const replyCacheSize = 8

// replyCache remembers the replies of the last handled commands so a
// resend is answered without running the command again.
type replyCache struct {
	entries [replyCacheSize]struct {
		counter comm.MsgCounter
		reply   comm.Payload
	}
	next int
}

func (c *replyCache) lookup(counter comm.MsgCounter) comm.Payload {
	for i := range c.entries {
		if e := &c.entries[i]; e.reply != nil && e.counter == counter {
			return e.reply
		}
	}
	return nil
}

func (c *replyCache) add(counter comm.MsgCounter, reply comm.Payload) {
	e := &c.entries[c.next]
	e.counter, e.reply = counter, reply
	c.next = (c.next + 1) % replyCacheSize
}
