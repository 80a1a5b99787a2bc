package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const mailboxBlockSize = 64

// Mailbox passes pointer-sized mails through a bounded ring.
type Mailbox struct {
	Object

	mu        sync.Mutex
	mails     []uintptr
	size      int
	pool      *Block
	senders   waitQueue
	receivers waitQueue
	deleted   bool
}

func (k *Kernel) InitMailbox(ctx context.Context, mb *Mailbox, name string, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: mailbox size %d", ErrInvalid, size)
	}
	k.InitObject(ctx, mb, ClassMailBox, name)
	mb.size = size
	return nil
}

// CreateMailbox allocates the mailbox and its ring from the heap.
func (k *Kernel) CreateMailbox(ctx context.Context, name string, size int) (*Mailbox, error) {
	schedule(ctx)
	if size <= 0 {
		return nil, fmt.Errorf("%w: mailbox size %d", ErrInvalid, size)
	}
	pool, err := k.heap.Alloc(ownerOf(ctx), size*8)
	if err != nil {
		return nil, err
	}
	mb := &Mailbox{size: size, pool: pool}
	if err := k.AllocateObject(ctx, mb, ClassMailBox, name, mailboxBlockSize); err != nil {
		k.heap.Free(pool)
		return nil, err
	}
	return mb, nil
}

// Send posts a mail without blocking.
func (mb *Mailbox) Send(mail uintptr) error {
	return mb.SendWait(context.Background(), mail, NoWait)
}

func (mb *Mailbox) SendWait(ctx context.Context, mail uintptr, timeout time.Duration) error {
	schedule(ctx)
	dl := newDeadline(timeout)
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for {
		if mb.deleted {
			return ErrDeleted
		}
		if len(mb.mails) < mb.size {
			mb.mails = append(mb.mails, mail)
			mb.receivers.wakeOne(nil)
			return nil
		}
		rem := dl.remaining()
		if rem == NoWait {
			return ErrFull
		}
		if err := wait(ctx, &mb.mu, &mb.senders, rem); err != nil {
			return err
		}
	}
}

func (mb *Mailbox) Recv(ctx context.Context, timeout time.Duration) (uintptr, error) {
	schedule(ctx)
	dl := newDeadline(timeout)
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for {
		if mb.deleted {
			return 0, ErrDeleted
		}
		if len(mb.mails) > 0 {
			mail := mb.mails[0]
			mb.mails = mb.mails[1:]
			mb.senders.wakeOne(nil)
			return mail, nil
		}
		if err := wait(ctx, &mb.mu, &mb.receivers, dl.remaining()); err != nil {
			return 0, err
		}
	}
}

func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.mails)
}

func (mb *Mailbox) shutdown() {
	mb.mu.Lock()
	mb.deleted = true
	mb.senders.wakeAll(ErrDeleted)
	mb.receivers.wakeAll(ErrDeleted)
	mb.mu.Unlock()
}

func (mb *Mailbox) Detach() error {
	if !mb.IsStatic() {
		return fmt.Errorf("%w: mailbox %s is dynamic", ErrInvalid, mb.name)
	}
	mb.shutdown()
	mb.k.DetachObject(mb)
	return nil
}

func (mb *Mailbox) Delete() error {
	if mb.IsStatic() {
		return fmt.Errorf("%w: mailbox %s is static", ErrInvalid, mb.name)
	}
	mb.shutdown()
	mb.k.heap.Free(mb.pool)
	mb.k.DeleteObject(mb)
	return nil
}
