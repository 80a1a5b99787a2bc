package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const messageQueueBlockSize = 72

// MessageQueue copies fixed-size messages through a bounded queue.
type MessageQueue struct {
	Object

	mu        sync.Mutex
	msgs      [][]byte
	msgSize   int
	capacity  int
	pool      *Block
	senders   waitQueue
	receivers waitQueue
	deleted   bool
}

func checkQueueParams(msgSize, capacity int) error {
	if msgSize <= 0 || capacity <= 0 {
		return fmt.Errorf("%w: message queue %dx%d", ErrInvalid, capacity, msgSize)
	}
	return nil
}

func (k *Kernel) InitMessageQueue(ctx context.Context, mq *MessageQueue, name string, msgSize, capacity int) error {
	if err := checkQueueParams(msgSize, capacity); err != nil {
		return err
	}
	k.InitObject(ctx, mq, ClassMessageQueue, name)
	mq.msgSize, mq.capacity = msgSize, capacity
	return nil
}

func (k *Kernel) CreateMessageQueue(ctx context.Context, name string, msgSize, capacity int) (*MessageQueue, error) {
	schedule(ctx)
	if err := checkQueueParams(msgSize, capacity); err != nil {
		return nil, err
	}
	pool, err := k.heap.Alloc(ownerOf(ctx), alignUp(msgSize, heapAlign)*capacity)
	if err != nil {
		return nil, err
	}
	mq := &MessageQueue{msgSize: msgSize, capacity: capacity, pool: pool}
	if err := k.AllocateObject(ctx, mq, ClassMessageQueue, name, messageQueueBlockSize); err != nil {
		k.heap.Free(pool)
		return nil, err
	}
	return mq, nil
}

// Send queues a copy of msg without blocking.
func (mq *MessageQueue) Send(msg []byte) error {
	return mq.send(context.Background(), msg, NoWait, false)
}

func (mq *MessageQueue) SendWait(ctx context.Context, msg []byte, timeout time.Duration) error {
	return mq.send(ctx, msg, timeout, false)
}

// Urgent puts msg at the head of the queue.
func (mq *MessageQueue) Urgent(msg []byte) error {
	return mq.send(context.Background(), msg, NoWait, true)
}

func (mq *MessageQueue) send(ctx context.Context, msg []byte, timeout time.Duration, urgent bool) error {
	schedule(ctx)
	if len(msg) > mq.msgSize {
		return fmt.Errorf("%w: message of %d bytes exceeds %d", ErrInvalid, len(msg), mq.msgSize)
	}
	dl := newDeadline(timeout)
	mq.mu.Lock()
	defer mq.mu.Unlock()
	for {
		if mq.deleted {
			return ErrDeleted
		}
		if len(mq.msgs) < mq.capacity {
			m := append([]byte(nil), msg...)
			if urgent {
				mq.msgs = append([][]byte{m}, mq.msgs...)
			} else {
				mq.msgs = append(mq.msgs, m)
			}
			mq.receivers.wakeOne(nil)
			return nil
		}
		rem := dl.remaining()
		if rem == NoWait {
			return ErrFull
		}
		if err := wait(ctx, &mq.mu, &mq.senders, rem); err != nil {
			return err
		}
	}
}

func (mq *MessageQueue) Recv(ctx context.Context, timeout time.Duration) ([]byte, error) {
	schedule(ctx)
	dl := newDeadline(timeout)
	mq.mu.Lock()
	defer mq.mu.Unlock()
	for {
		if mq.deleted {
			return nil, ErrDeleted
		}
		if len(mq.msgs) > 0 {
			m := mq.msgs[0]
			mq.msgs = mq.msgs[1:]
			mq.senders.wakeOne(nil)
			return m, nil
		}
		if err := wait(ctx, &mq.mu, &mq.receivers, dl.remaining()); err != nil {
			return nil, err
		}
	}
}

func (mq *MessageQueue) Len() int {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	return len(mq.msgs)
}

func (mq *MessageQueue) shutdown() {
	mq.mu.Lock()
	mq.deleted = true
	mq.senders.wakeAll(ErrDeleted)
	mq.receivers.wakeAll(ErrDeleted)
	mq.mu.Unlock()
}

func (mq *MessageQueue) Detach() error {
	if !mq.IsStatic() {
		return fmt.Errorf("%w: message queue %s is dynamic", ErrInvalid, mq.name)
	}
	mq.shutdown()
	mq.k.DetachObject(mq)
	return nil
}

func (mq *MessageQueue) Delete() error {
	if mq.IsStatic() {
		return fmt.Errorf("%w: message queue %s is static", ErrInvalid, mq.name)
	}
	mq.shutdown()
	mq.k.heap.Free(mq.pool)
	mq.k.DeleteObject(mq)
	return nil
}
