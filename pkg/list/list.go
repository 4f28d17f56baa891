// Package list implements an intrusive doubly-linked list. The bucket cache
// uses one to keep its entries in least-recently-used order.
package list

// List holds zero or more links in order.
type List[T any] struct {
	head *Link[T]
	tail *Link[T]
}

// NewList creates an empty list.
func NewList[T any]() *List[T] {
	return &List[T]{}
}

// PeekHead returns the link at the head of the list, or nil if the list is empty.
func (list *List[T]) PeekHead() *Link[T] {
	return list.head
}

// PeekTail returns the link at the tail of the list, or nil if the list is empty.
func (list *List[T]) PeekTail() *Link[T] {
	return list.tail
}

// PushHead adds a value to the start of the list. Returns the added link.
func (list *List[T]) PushHead(value T) *Link[T] {
	newlink := &Link[T]{list: list, next: list.head, value: value}
	if list.head != nil {
		list.head.prev = newlink
	}
	list.head = newlink
	if list.tail == nil {
		list.tail = newlink
	}
	return newlink
}

// PushTail adds a value to the end of the list. Returns the added link.
func (list *List[T]) PushTail(value T) *Link[T] {
	newlink := &Link[T]{list: list, prev: list.tail, value: value}
	if list.tail != nil {
		list.tail.next = newlink
	}
	list.tail = newlink
	if list.head == nil {
		list.head = newlink
	}
	return newlink
}

// Find returns the first link for which f evaluates to true, or nil.
func (list *List[T]) Find(f func(*Link[T]) bool) *Link[T] {
	for cur := list.head; cur != nil; cur = cur.next {
		if f(cur) {
			return cur
		}
	}
	return nil
}

// Map applies f to every link in the list, head to tail.
func (list *List[T]) Map(f func(*Link[T])) {
	for cur := list.head; cur != nil; {
		next := cur.next
		f(cur)
		cur = next
	}
}

// Link is one element of a list.
type Link[T any] struct {
	list *List[T]
	prev *Link[T]
	next *Link[T]
	value T
}

// GetList returns the list this link belongs to, or nil if it was popped.
func (link *Link[T]) GetList() *List[T] {
	return link.list
}

// GetValue returns the link's value.
func (link *Link[T]) GetValue() T {
	return link.value
}

// SetValue replaces the link's value.
func (link *Link[T]) SetValue(value T) {
	link.value = value
}

// GetPrev returns the previous link, or nil at the head.
func (link *Link[T]) GetPrev() *Link[T] {
	return link.prev
}

// GetNext returns the next link, or nil at the tail.
func (link *Link[T]) GetNext() *Link[T] {
	return link.next
}

// PopSelf unlinks this link from its list.
func (link *Link[T]) PopSelf() {
	if link.prev != nil {
		link.prev.next = link.next
	} else if link.list != nil {
		link.list.head = link.next
	}
	if link.next != nil {
		link.next.prev = link.prev
	} else if link.list != nil {
		link.list.tail = link.prev
	}
	link.list = nil
	link.prev = nil
	link.next = nil
}
