package structs

// nodoNulo marca el fin de la lista (o la falta de siguiente libre).
const nodoNulo int32 = -1

type nodo[T any] struct {
	valor T
	prev  int32
	next  int32
	usado bool
}

// WaitQueue es una cola FIFO de esperadores guardada en un arena de slots.
// Los nodos se reciclan con una free-list, asi que encolar no aloca salvo
// cuando el arena tiene que crecer. No es segura para uso concurrente: la
// protege la primitiva que la contiene.
type WaitQueue[T any] struct {
	nodos []nodo[T]
	head  int32
	tail  int32
	libre int32
	largo int
}

func NewWaitQueue[T any](capacidadInicial int) *WaitQueue[T] {
	q := &WaitQueue[T]{}
	q.Init(capacidadInicial)
	return q
}

// Init deja la cola vacia, reservando capacidadInicial slots.
func (q *WaitQueue[T]) Init(capacidadInicial int) {
	q.nodos = make([]nodo[T], 0, capacidadInicial)
	q.head = nodoNulo
	q.tail = nodoNulo
	q.libre = nodoNulo
	q.largo = 0
}

func (q *WaitQueue[T]) Len() int {
	return q.largo
}

func (q *WaitQueue[T]) Empty() bool {
	return q.largo == 0
}

// Enqueue agrega v al final y devuelve el slot que ocupa.
func (q *WaitQueue[T]) Enqueue(v T) int32 {
	if q.nodos == nil {
		q.Init(4)
	}

	var slot int32
	if q.libre != nodoNulo {
		slot = q.libre
		q.libre = q.nodos[slot].next
	} else {
		q.nodos = append(q.nodos, nodo[T]{})
		slot = int32(len(q.nodos) - 1)
	}

	q.nodos[slot] = nodo[T]{valor: v, prev: q.tail, next: nodoNulo, usado: true}
	if q.tail != nodoNulo {
		q.nodos[q.tail].next = slot
	} else {
		q.head = slot
	}
	q.tail = slot
	q.largo++
	return slot
}

// Peek devuelve el primero sin sacarlo.
func (q *WaitQueue[T]) Peek() (T, bool) {
	if q.head == nodoNulo {
		var zero T
		return zero, false
	}
	return q.nodos[q.head].valor, true
}

// Dequeue saca el primero de la cola.
func (q *WaitQueue[T]) Dequeue() (T, bool) {
	if q.head == nodoNulo {
		var zero T
		return zero, false
	}
	v := q.nodos[q.head].valor
	q.Remove(q.head)
	return v, true
}

// Remove saca el slot indicado, este donde este. Devuelve false si el slot
// ya estaba libre.
func (q *WaitQueue[T]) Remove(slot int32) bool {
	if slot < 0 || int(slot) >= len(q.nodos) || !q.nodos[slot].usado {
		return false
	}

	n := &q.nodos[slot]
	if n.prev != nodoNulo {
		q.nodos[n.prev].next = n.next
	} else {
		q.head = n.next
	}
	if n.next != nodoNulo {
		q.nodos[n.next].prev = n.prev
	} else {
		q.tail = n.prev
	}

	var zero T
	n.valor = zero
	n.usado = false
	n.prev = nodoNulo
	n.next = q.libre
	q.libre = slot
	q.largo--
	return true
}

// Find devuelve el slot del primer valor que cumple match.
func (q *WaitQueue[T]) Find(match func(T) bool) (int32, bool) {
	for i := q.head; i != nodoNulo; i = q.nodos[i].next {
		if match(q.nodos[i].valor) {
			return i, true
		}
	}
	return nodoNulo, false
}

// Each recorre la cola en orden FIFO.
func (q *WaitQueue[T]) Each(fn func(T)) {
	for i := q.head; i != nodoNulo; i = q.nodos[i].next {
		fn(q.nodos[i].valor)
	}
}

// Drain vacia la cola en orden FIFO llamando a fn por cada valor.
func (q *WaitQueue[T]) Drain(fn func(T)) {
	for !q.Empty() {
		v, _ := q.Dequeue()
		fn(v)
	}
}

// Slots es la cantidad de nodos reservados en el arena.
func (q *WaitQueue[T]) Slots() int {
	return len(q.nodos)
}
