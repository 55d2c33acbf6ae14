package vm

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// PieceProfile holds call counts for one piece.
type PieceProfile struct {
	Calls uint64 // atomic
	IsHot bool
}

// Profiler counts executed opcodes and calls per piece. It may be read
// from another goroutine while a machine is running.
type Profiler struct {
	opcodes [opcodeCount]uint64 // atomic counters
	pieces  sync.Map            // piece name -> *PieceProfile

	// HotThreshold is the call count after which a piece is reported hot.
	HotThreshold uint64

	// OnHot is called once when a piece crosses HotThreshold.
	OnHot func(piece string, profile *PieceProfile)
}

// NewProfiler creates a profiler with the default hot threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 1000}
}

// RecordInstruction counts one executed instruction.
func (p *Profiler) RecordInstruction(op Opcode) {
	if op < opcodeCount {
		atomic.AddUint64(&p.opcodes[op], 1)
	}
}

// RecordCall counts a call into pc. Returns true if the piece just became hot.
func (p *Profiler) RecordCall(pc *Piece) bool {
	if pc == nil {
		return false
	}
	val, _ := p.pieces.LoadOrStore(pc.Name, &PieceProfile{})
	profile := val.(*PieceProfile)

	count := atomic.AddUint64(&profile.Calls, 1)
	if !profile.IsHot && p.HotThreshold > 0 && count >= p.HotThreshold {
		profile.IsHot = true
		if p.OnHot != nil {
			p.OnHot(pc.Name, profile)
		}
		return true
	}
	return false
}

// OpcodeCount returns how often op was executed.
func (p *Profiler) OpcodeCount(op Opcode) uint64 {
	if op >= opcodeCount {
		return 0
	}
	return atomic.LoadUint64(&p.opcodes[op])
}

// Calls returns how often the named piece was called.
func (p *Profiler) Calls(piece string) uint64 {
	if val, ok := p.pieces.Load(piece); ok {
		return atomic.LoadUint64(&val.(*PieceProfile).Calls)
	}
	return 0
}

// ProfilerStats holds aggregate counts.
type ProfilerStats struct {
	Instructions uint64
	Calls        uint64
	Pieces       int
	HotPieces    int
}

// Stats returns aggregate counts.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	for op := Opcode(0); op < opcodeCount; op++ {
		stats.Instructions += p.OpcodeCount(op)
	}
	p.pieces.Range(func(_, value any) bool {
		profile := value.(*PieceProfile)
		stats.Pieces++
		stats.Calls += atomic.LoadUint64(&profile.Calls)
		if profile.IsHot {
			stats.HotPieces++
		}
		return true
	})
	return stats
}

// TopPieces returns the names of the n most called pieces.
func (p *Profiler) TopPieces(n int) []string {
	type pieceCount struct {
		name  string
		count uint64
	}
	var all []pieceCount
	p.pieces.Range(func(key, value any) bool {
		all = append(all, pieceCount{key.(string), atomic.LoadUint64(&value.(*PieceProfile).Calls)})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].name < all[j].name
	})

	result := make([]string, 0, n)
	for i := 0; i < n && i < len(all); i++ {
		result = append(result, all[i].name)
	}
	return result
}

// WriteReport prints the opcode histogram and the most called pieces.
func (p *Profiler) WriteReport(w io.Writer) {
	stats := p.Stats()
	fmt.Fprintf(w, "instructions: %d, calls: %d\n", stats.Instructions, stats.Calls)
	for op := Opcode(0); op < opcodeCount; op++ {
		if n := p.OpcodeCount(op); n > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", op, n)
		}
	}
	for _, name := range p.TopPieces(10) {
		fmt.Fprintf(w, "  call %-16s %d\n", name, p.Calls(name))
	}
}

// Reset clears all counts.
func (p *Profiler) Reset() {
	for i := range p.opcodes {
		atomic.StoreUint64(&p.opcodes[i], 0)
	}
	p.pieces = sync.Map{}
}
