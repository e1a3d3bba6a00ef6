package consensus

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/sequence"
)

// ErrUnknownCreator is returned for events whose creator is not in the
// roster.
var ErrUnknownCreator = errors.New("creator not in roster")

const (
	noAncestor   int64 = -1
	noDescendant int64 = math.MaxInt64
)

type fame uint8

const (
	fameUndecided fame = iota
	fameYes
	fameNo
)

// event is the engine's view of a gossip event.
type event struct {
	ev      *hashgraph.GossipEvent
	creator int // roster index

	selfParent  *event
	otherParent *event
	children    []*event

	round   int64
	witness bool
	fame    fame

	// preSnapshot marks events whose round cannot be derived: their known
	// ancestry lies entirely below the window or below a loaded snapshot.
	// They never reach consensus.
	preSnapshot bool
	consensus   bool

	// lastAnc[c] is the highest generation of creator c among this event's
	// ancestors (itself included), or noAncestor.
	lastAnc []int64
	// firstDesc[c] is the lowest generation of creator c among this event's
	// descendants (itself included), or noDescendant.
	firstDesc []int64

	// votes caches this witness's votes on earlier witnesses.
	votes map[*event]bool
}

func (x *event) parents() []*event {
	var ps []*event
	if x.selfParent != nil {
		ps = append(ps, x.selfParent)
	}
	if x.otherParent != nil {
		ps = append(ps, x.otherParent)
	}
	return ps
}

type creatorGen struct {
	creator    int
	generation int64
}

// Engine runs hashgraph consensus. It is not safe for concurrent use; the
// pipeline drives it from a single sequential scheduler.
type Engine struct {
	roster *hashgraph.Roster
	cfg    Config

	events       map[hashgraph.Hash]*event
	index        *sequence.Map[hashgraph.EventDescriptor, *event]
	byCreatorGen map[creatorGen]*event
	witnesses    map[int64][]*event

	maxRound      int64
	lastDecided   int64
	judgeInfo     []hashgraph.MinimumJudgeInfo
	nextOrder     int64
	lastTimestamp time.Time
	snapshot      *hashgraph.ConsensusSnapshot

	// Set by LoadSnapshot.
	anchored        bool
	anchorRound     int64
	anchorWitnesses map[hashgraph.Hash]bool
	anchorJudges    map[hashgraph.Hash]bool
	pendingJudges   map[hashgraph.Hash]bool
}

// New returns an engine starting from genesis.
func New(roster *hashgraph.Roster, cfg Config) (*Engine, error) {
	if roster == nil {
		return nil, errors.New("consensus: roster is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("consensus: %w", err)
	}
	e := &Engine{roster: roster, cfg: cfg}
	e.reset()
	return e, nil
}

func (e *Engine) reset() {
	mode := e.cfg.AncientMode
	e.events = make(map[hashgraph.Hash]*event)
	e.index = sequence.NewMap[hashgraph.EventDescriptor, *event](
		mode.FirstIndicator(),
		func(d hashgraph.EventDescriptor) int64 { return d.AncientIndicator(mode) },
	)
	e.byCreatorGen = make(map[creatorGen]*event)
	e.witnesses = make(map[int64][]*event)
	e.maxRound = hashgraph.RoundUndefined
	e.lastDecided = hashgraph.RoundUndefined
	e.judgeInfo = nil
	e.nextOrder = 0
	e.lastTimestamp = time.Time{}
	e.snapshot = nil
	e.anchored = false
	e.anchorRound = hashgraph.RoundUndefined
	e.anchorWitnesses = nil
	e.anchorJudges = nil
	e.pendingJudges = nil
}

// Config returns the engine's parameters.
func (e *Engine) Config() Config { return e.cfg }

// LastDecidedRound returns the newest round emitted, or RoundUndefined.
func (e *Engine) LastDecidedRound() int64 { return e.lastDecided }

// MaxRound returns the highest round created so far.
func (e *Engine) MaxRound() int64 { return e.maxRound }

// NumEvents returns the number of non-ancient events held.
func (e *Engine) NumEvents() int { return len(e.events) }

// AncientThreshold returns the current ancient threshold.
func (e *Engine) AncientThreshold() int64 {
	if len(e.judgeInfo) == 0 {
		return e.cfg.AncientMode.FirstIndicator()
	}
	return e.judgeInfo[0].MinimumJudgeAncientThreshold
}

// Snapshot returns the snapshot of the last decided round.
func (e *Engine) Snapshot() (hashgraph.ConsensusSnapshot, bool) {
	if e.snapshot == nil {
		return hashgraph.ConsensusSnapshot{}, false
	}
	return *e.snapshot, true
}

// EventRound returns the round created of a held event.
func (e *Engine) EventRound(h hashgraph.Hash) (int64, bool) {
	x, ok := e.events[h]
	if !ok {
		return 0, false
	}
	return x.round, true
}

// AddEvent inserts ge and returns the rounds it caused to be decided, oldest
// first. Duplicates and ancient events are ignored.
func (e *Engine) AddEvent(ge *hashgraph.GossipEvent) ([]hashgraph.ConsensusRound, error) {
	if _, dup := e.events[ge.Hash()]; dup {
		return nil, nil
	}
	if ge.AncientIndicator(e.cfg.AncientMode) < e.AncientThreshold() {
		slog.Debug("ancient event ignored by consensus", "event", ge.String())
		return nil, nil
	}
	idx, ok := e.roster.Index(ge.Creator())
	if !ok {
		return nil, fmt.Errorf("add event %s: %w", ge, ErrUnknownCreator)
	}

	x := e.insert(ge, idx)
	e.assignRound(x)
	if !x.witness {
		return nil, nil
	}
	e.addWitness(x)
	return e.decideRounds(x), nil
}

func (e *Engine) lookup(d *hashgraph.EventDescriptor) *event {
	if d == nil {
		return nil
	}
	p, ok := e.events[d.Hash]
	if !ok || p.ev.Descriptor != *d {
		if d.AncientIndicator(e.cfg.AncientMode) >= e.AncientThreshold() {
			slog.Warn("non-ancient parent unknown to consensus", "parent", d.String())
		}
		return nil
	}
	return p
}

func (e *Engine) insert(ge *hashgraph.GossipEvent, idx int) *event {
	n := e.roster.Len()
	gen := ge.Generation()
	x := &event{
		ev:          ge,
		creator:     idx,
		selfParent:  e.lookup(ge.SelfParent),
		otherParent: e.lookup(ge.OtherParent),
		lastAnc:     make([]int64, n),
		firstDesc:   make([]int64, n),
	}
	for c := range n {
		x.lastAnc[c] = noAncestor
		x.firstDesc[c] = noDescendant
	}
	for _, p := range x.parents() {
		for c := range n {
			x.lastAnc[c] = max(x.lastAnc[c], p.lastAnc[c])
		}
		p.children = append(p.children, x)
	}
	x.lastAnc[idx] = gen
	x.firstDesc[idx] = gen

	// An ancestor already marked by an earlier event of this creator has
	// had all of its own ancestors marked too.
	stack := x.parents()
	for len(stack) > 0 {
		a := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if a.firstDesc[idx] != noDescendant {
			continue
		}
		a.firstDesc[idx] = gen
		stack = append(stack, a.parents()...)
	}

	e.events[ge.Hash()] = x
	e.index.Put(ge.Descriptor, x)
	e.byCreatorGen[creatorGen{idx, gen}] = x
	return x
}

func (e *Engine) assignRound(x *event) {
	h := x.ev.Hash()
	if e.anchored && e.anchorWitnesses[h] {
		x.round = e.anchorRound
		x.witness = true
		x.fame = fameNo
		if e.anchorJudges[h] {
			x.fame = fameYes
		}
		return
	}

	var defined []*event
	for _, p := range x.parents() {
		if !p.preSnapshot {
			defined = append(defined, p)
		}
	}
	if len(defined) == 0 {
		if e.anchored || x.ev.SelfParent != nil || x.ev.OtherParent != nil {
			x.preSnapshot = true
			x.consensus = true
			x.round = hashgraph.RoundUndefined
			return
		}
		x.round = hashgraph.FirstRound
		x.witness = true
		return
	}

	r := hashgraph.RoundUndefined
	for _, p := range defined {
		r = max(r, p.round)
	}
	if e.stronglySeesSupermajority(x, r) {
		r++
	}
	x.round = r
	sp := x.selfParent
	x.witness = sp == nil || sp.preSnapshot || sp.round < r
}

func (e *Engine) addWitness(x *event) {
	e.witnesses[x.round] = append(e.witnesses[x.round], x)
	e.maxRound = max(e.maxRound, x.round)

	if x.fame == fameUndecided && x.round <= e.lastDecided {
		x.fame = fameNo
		slog.Debug("late witness is not famous",
			"event", x.ev.String(),
			"round", x.round,
		)
	}

	if len(e.pendingJudges) > 0 && x.fame == fameYes {
		delete(e.pendingJudges, x.ev.Hash())
		if len(e.pendingJudges) == 0 {
			e.markAnchoredConsensus()
		}
	}
	if len(e.pendingJudges) == 0 {
		e.decideFame()
	}
}

func (e *Engine) weight(idx int) int64 {
	return e.roster.Entry(idx).Weight
}

func (e *Engine) supermajority(w int64) bool {
	return e.cfg.Supermajority.Exceeded(w, e.roster.TotalWeight())
}

// sees reports whether y is an ancestor of x.
func (e *Engine) sees(x, y *event) bool {
	return x.lastAnc[y.creator] >= y.ev.Generation()
}

// stronglySees reports whether x reaches y through events created by a
// supermajority of weight.
func (e *Engine) stronglySees(x, y *event) bool {
	var w int64
	for c := range x.lastAnc {
		if x.lastAnc[c] >= y.firstDesc[c] {
			w += e.weight(c)
		}
	}
	return e.supermajority(w)
}

func (e *Engine) stronglySeesSupermajority(x *event, round int64) bool {
	var w int64
	counted := make(map[int]bool)
	for _, y := range e.witnesses[round] {
		if counted[y.creator] || !e.stronglySees(x, y) {
			continue
		}
		counted[y.creator] = true
		w += e.weight(y.creator)
	}
	return e.supermajority(w)
}

// markAnchoredConsensus runs once every judge of a loaded snapshot is
// present: events that are ancestors of all of them reached consensus at or
// before the snapshot round.
func (e *Engine) markAnchoredConsensus() {
	var judges []*event
	for _, w := range e.witnesses[e.anchorRound] {
		if w.fame == fameYes {
			judges = append(judges, w)
		}
	}
	for _, x := range e.events {
		if !x.consensus && e.seenByAll(judges, x) {
			x.consensus = true
		}
	}
	slog.Info("snapshot judges loaded",
		"round", e.anchorRound,
		"judges", len(judges),
	)
}

func (e *Engine) seenByAll(judges []*event, x *event) bool {
	for _, j := range judges {
		if !e.sees(j, x) {
			return false
		}
	}
	return true
}

// LoadSnapshot discards all state and resumes after the snapshot's round.
// Events must then be re-added; those that are neither snapshot witnesses
// nor descendants of one are treated as already handled.
func (e *Engine) LoadSnapshot(s hashgraph.ConsensusSnapshot) {
	e.reset()
	e.anchored = true
	e.anchorRound = s.Round
	e.lastDecided = s.Round
	e.maxRound = s.Round
	e.judgeInfo = slices.Clone(s.MinimumJudgeInfo)
	e.nextOrder = s.NextConsensusNumber
	e.lastTimestamp = s.ConsensusTimestamp
	e.index.ShiftWindow(e.AncientThreshold(), nil)

	e.anchorWitnesses = make(map[hashgraph.Hash]bool)
	e.anchorJudges = make(map[hashgraph.Hash]bool)
	e.pendingJudges = make(map[hashgraph.Hash]bool)
	for _, h := range s.WitnessHashes {
		e.anchorWitnesses[h] = true
	}
	for _, h := range s.JudgeHashes {
		e.anchorWitnesses[h] = true
		e.anchorJudges[h] = true
		e.pendingJudges[h] = true
	}

	snap := s
	e.snapshot = &snap
	slog.Info("consensus snapshot loaded",
		"round", s.Round,
		"judges", len(s.JudgeHashes),
		"ancient_threshold", e.AncientThreshold(),
	)
}
