/*
Package kernel is a hosted model of a small real-time kernel.

Kernel threads run as goroutines that cooperate at kernel calls. Every
call that takes a context passes through a scheduling point where a
suspended thread parks and a closed thread terminates. Timers run in
interrupt context, outside any thread.

Objects (threads, semaphores, mutexes, events, mailboxes, message
queues, memory pools, memory heaps and timers) live in a registry keyed
by id. Statically initialised objects are detached; dynamically created
objects have their control blocks charged to the system heap under the
owner that created them.
*/
package kernel
