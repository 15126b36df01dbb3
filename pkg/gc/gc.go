// Package gc implements a conservative mark-sweep allocator over a
// manually managed word arena, grounded on
// original_source/A4/alloc.c.
//
// Block header
//
// Every block carries an info word packing an ALLOC bit, a MARK bit,
// and a 62-bit payload size, exactly as alloc.c's infoMake/ALLOC_BIT/
// MARK_BIT/SIZE_MASK do; see infoMake, and the isAlloc/isMarked/size
// accessors below.
//
// Roots
//
// The C original discovers roots by walking the linker-provided
// data segment (__data_start.._end) and the native %rbp frame chain.
// Go exposes neither, so roots are registered explicitly: AddRoot for
// a global word, PushFrame/PopFrame for a stack frame's words. The
// mark-sweep algorithm itself — global/stack/heap scan, fixed-point
// heap-root expansion, sweep-with-coalescing, finalizer-once — is
// unchanged.
package gc

import "errors"

const (
	allocBit uint64 = 1 << 63
	markBit  uint64 = 1 << 62
	sizeMask uint64 = markBit - 1
)

// maxStackDepth bounds frame-chain scanning, matching alloc.c's
// frame_count > 128 infinite-loop guard.
const maxStackDepth = 128

func infoMake(alloc, mark bool, size uint64) uint64 {
	info := size & sizeMask
	if alloc {
		info |= allocBit
	}
	if mark {
		info |= markBit
	}
	return info
}

func isAlloc(info uint64) bool  { return info&allocBit != 0 }
func isMarked(info uint64) bool { return info&markBit != 0 }
func blockSize(info uint64) int { return int(info & sizeMask) }

// Finalizer runs exactly once, when the collector determines the
// block it is attached to is unreachable. Calling memAllocate (here,
// Heap.Allocate) from within a finalizer is a fatal usage error, just
// as in the original.
type Finalizer func()

// block is a block's header. The C original packs info/next/finalizer
// into the first three words of the block itself; here only info is
// kept as an actual packed word (so the ALLOC/MARK/size accessors are
// real bit-packing, not just struct fields) since next/finalizer are
// a Go pointer and a Go closure respectively, neither of which fits
// in an arena word.
type block struct {
	info      uint64
	offset    int // arena index of this block's payload (after the header)
	next      *block
	finalizer Finalizer
}

// Heap is a fixed-size word arena managed with first-fit allocation
// and conservative mark-sweep collection.
type Heap struct {
	arena     []int64
	head      *block
	totalSize int

	roots  []*int64
	frames [][]int64

	inFinalizer bool
}

// Errors returned by Heap methods.
var (
	ErrAlreadyInitialized = errors.New("gc: heap already initialized")
	ErrInvalidSize        = errors.New("gc: invalid heap size")
	ErrFinalizerReentry   = errors.New("gc: Allocate called from within a finalizer")
)

// NewHeap allocates an arena of size words (scaled by 1.2, matching
// alloc.c's memInitialize headroom) and returns it as one large free
// block. Like every later block, the first one is preceded by a
// headerWords gap, so no payload starts at offset 0 and a zero word
// never points into a block.
func NewHeap(size int) (*Heap, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	total := size + size/5 // size * 1.2
	h := &Heap{
		arena:     make([]int64, total),
		totalSize: total,
	}
	h.head = &block{
		info:   infoMake(false, false, uint64(total-headerWords)),
		offset: headerWords,
	}
	return h, nil
}

// AddRoot registers ptr as a global root: its current value is
// scanned on every collection, mirroring a word in the C original's
// data segment.
func (h *Heap) AddRoot(ptr *int64) {
	h.roots = append(h.roots, ptr)
}

// RemoveRoot unregisters a previously added root.
func (h *Heap) RemoveRoot(ptr *int64) {
	for i, r := range h.roots {
		if r == ptr {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// PushFrame registers a stack frame's words as roots, mirroring one
// level of the C original's %rbp-chained frame walk. Frames deeper
// than maxStackDepth are not scanned, matching alloc.c's guard.
func (h *Heap) PushFrame(words []int64) {
	h.frames = append(h.frames, words)
}

// PopFrame removes the most recently pushed frame.
func (h *Heap) PopFrame() {
	if len(h.frames) == 0 {
		return
	}
	h.frames = h.frames[:len(h.frames)-1]
}

// inArena reports whether value looks like a valid pointer into the
// arena: the offset of some block's payload. This is the conservative
// test — alloc.c's inHeapRange, simplified because Go's arena is the
// only address space there is to point into.
func (h *Heap) inArena(value int64) bool {
	return value >= 0 && value < int64(h.totalSize)
}

// findBlock returns the block whose payload contains arena index
// offset, or nil. Mirrors alloc.c's getBlock.
func (h *Heap) findBlock(offset int64) *block {
	for cur := h.head; cur != nil; cur = cur.next {
		end := cur.offset + headerPayloadEnd(cur)
		if int(offset) >= cur.offset && int(offset) < end {
			return cur
		}
	}
	return nil
}

func headerPayloadEnd(b *block) int {
	return blockSize(b.info)
}

// markChain follows a potential pointer chain starting at value,
// exactly as alloc.c's nested "while (data && iterations_left-- > 0)"
// loops: it keeps dereferencing into the arena until it either lands
// on an allocated, unmarked block (marks it and stops) or runs out of
// followable data.
func (h *Heap) markChain(value int64) {
	const maxChase = 100
	for chase := 0; value != 0 && chase < maxChase; chase++ {
		if !h.inArena(value) {
			return
		}
		blk := h.findBlock(value)
		if blk == nil {
			return
		}
		if !isMarked(blk.info) && isAlloc(blk.info) {
			blk.info |= markBit
			return
		}
		value = h.arena[value]
	}
}

// markAndSweep runs one collection cycle and returns the number of
// words freed, matching alloc.c's markAndSweep.
func (h *Heap) markAndSweep() int {
	for _, root := range h.roots {
		h.markChain(*root)
	}
	// Scan only the most recently pushed maxStackDepth frames, matching
	// alloc.c's frame_count > 128 guard on its top-to-bottom stack walk.
	frames := h.frames
	if len(frames) > maxStackDepth {
		frames = frames[len(frames)-maxStackDepth:]
	}
	for _, frame := range frames {
		for _, word := range frame {
			h.markChain(word)
		}
	}

	// Fixed-point heap-root expansion: a marked block's payload may
	// reference otherwise-unreachable blocks, so keep scanning the
	// heap until a full pass marks nothing new.
	for {
		markedAny := false
		for cur := h.head; cur != nil; cur = cur.next {
			if !isAlloc(cur.info) || !isMarked(cur.info) {
				continue
			}
			size := blockSize(cur.info)
			for i := 0; i < size; i++ {
				word := h.arena[cur.offset+i]
				if !h.inArena(word) {
					continue
				}
				target := h.findBlock(word)
				if target != nil && isAlloc(target.info) && !isMarked(target.info) {
					target.info |= markBit
					markedAny = true
				}
			}
		}
		if !markedAny {
			break
		}
	}

	return h.sweep()
}

// sweep clears mark bits off live blocks, frees and coalesces dead
// ones, and runs each freed block's finalizer exactly once.
func (h *Heap) sweep() int {
	var wordsFreed int
	var prev *block
	for cur := h.head; cur != nil; {
		if isMarked(cur.info) {
			cur.info &^= markBit
			cur = cur.next
			prev = nil
			continue
		}
		if isAlloc(cur.info) {
			cur.info &^= allocBit
			wordsFreed += blockSize(cur.info)
			if cur.finalizer != nil {
				fn := cur.finalizer
				cur.finalizer = nil
				h.inFinalizer = true
				fn()
				h.inFinalizer = false
			}
		}
		if prev != nil {
			prevSize := blockSize(prev.info)
			newSize := prevSize + headerWords + blockSize(cur.info)
			prev.info = infoMake(false, false, uint64(newSize))
			prev.next = cur.next
			wordsFreed += headerWords
			cur = prev.next
		} else {
			prev = cur
			cur = cur.next
		}
	}
	return wordsFreed
}

// headerWords is the number of words a block header is charged for
// when blocks coalesce, matching alloc.c's BLOCK_SIZE (sizeof(block_t)/8).
const headerWords = 3

// nextFit returns the first free block at least size words long.
func (h *Heap) nextFit(size int) *block {
	for cur := h.head; cur != nil; cur = cur.next {
		if !isAlloc(cur.info) && blockSize(cur.info) >= size {
			return cur
		}
	}
	return nil
}

// Allocate reserves size words, attaching finalize (if non-nil) to
// run exactly once when the block is later collected. It returns the
// arena offset of the payload, or ok=false if no space is available
// even after a collection pass.
func (h *Heap) Allocate(size int, finalize Finalizer) (offset int, ok bool) {
	if h.inFinalizer {
		panic(ErrFinalizerReentry)
	}

	blk := h.nextFit(size)
	if blk == nil {
		if h.markAndSweep() == 0 {
			return 0, false
		}
		blk = h.nextFit(size)
		if blk == nil {
			return 0, false
		}
	}

	available := blockSize(blk.info)
	if available-size >= headerWords+1 {
		// headerWords of the split-off remainder are charged as a gap
		// rather than real storage, mirroring the real header bytes
		// the C block_t consumes in-arena; our header lives in the Go
		// block struct instead, so those words simply go unused.
		newBlock := &block{
			info:   infoMake(false, false, uint64(available-size-headerWords)),
			offset: blk.offset + headerWords + size,
			next:   blk.next,
		}
		blk.info = infoMake(true, false, uint64(size))
		blk.next = newBlock
		blk.finalizer = finalize
	} else {
		blk.info = infoMake(true, false, uint64(available))
		blk.finalizer = finalize
	}
	return blk.offset, true
}

// Read returns the arena word at offset, an absolute arena index such
// as a payload offset returned by Allocate plus an index into that
// payload.
func (h *Heap) Read(offset int) int64 {
	return h.arena[offset]
}

// Write stores a word at a previously allocated offset.
func (h *Heap) Write(offset int, value int64) {
	h.arena[offset] = value
}
