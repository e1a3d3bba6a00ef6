package consensus

import (
	"cmp"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/swirl/internal/hashgraph"
)

// decideRounds emits every consecutive round above the last decided one
// whose witnesses all have decided fame.
func (e *Engine) decideRounds(keystone *event) []hashgraph.ConsensusRound {
	if len(e.pendingJudges) > 0 {
		return nil
	}
	var out []hashgraph.ConsensusRound
	for {
		r := e.lastDecided + 1
		ws := e.witnesses[r]
		if len(ws) == 0 {
			break
		}
		if slices.ContainsFunc(ws, func(w *event) bool { return w.fame == fameUndecided }) {
			break
		}
		out = append(out, e.decideRound(r, ws, keystone))
	}
	return out
}

type received struct {
	x      *event
	median time.Time
	key    hashgraph.Hash
}

func (e *Engine) decideRound(r int64, ws []*event, keystone *event) hashgraph.ConsensusRound {
	judges := judgesOf(ws)

	var items []received
	if len(judges) > 0 {
		whitener := whitenerOf(judges)
		for _, x := range e.receivedBy(judges) {
			key := e.cfg.TieBreak.key(x.ev.Hash(), whitener)
			items = append(items, received{x: x, median: e.medianTime(judges, x), key: key})
		}
	}
	// A parent never has a later median than its child.
	slices.SortFunc(items, func(a, b received) int {
		if c := a.median.Compare(b.median); c != 0 {
			return c
		}
		return e.cfg.TieBreak.Compare(a.x.ev.Generation(), a.key, b.x.ev.Generation(), b.key)
	})

	events := make([]hashgraph.ConsensusEvent, 0, len(items))
	for _, it := range items {
		ts := it.median
		if !e.lastTimestamp.IsZero() {
			if floor := e.lastTimestamp.Add(e.cfg.MinTimestampIncrement); ts.Before(floor) {
				ts = floor
			}
		}
		e.lastTimestamp = ts
		it.x.consensus = true
		events = append(events, hashgraph.ConsensusEvent{
			Event:              it.x.ev,
			RoundReceived:      r,
			ConsensusTimestamp: ts,
			ConsensusOrder:     e.nextOrder,
		})
		e.nextOrder++
	}

	e.recordJudgeInfo(r, judges)
	e.lastDecided = r
	snap := e.buildSnapshot(r, ws, judges)
	e.snapshot = &snap

	var gens hashgraph.RoundGenerations
	for i, j := range judges {
		g := j.ev.Generation()
		if i == 0 || g < gens.MinRoundGeneration {
			gens.MinRoundGeneration = g
		}
		gens.MaxRoundGeneration = max(gens.MaxRoundGeneration, g)
	}
	gens.MinGenerationNonAncient = snap.AncientThreshold(e.cfg.AncientMode)

	e.forgetVotesOn(ws)
	e.prune()

	slog.Info("round decided",
		"round", r,
		"events", len(events),
		"judges", len(judges),
		"witnesses", len(ws),
	)
	return hashgraph.ConsensusRound{
		RoundNumber:     r,
		ConsensusEvents: events,
		KeystoneEvent:   keystone.ev,
		Generations:     gens,
		Snapshot:        snap,
	}
}

// judgesOf returns the famous witnesses ordered by creator. A creator with
// more than one famous witness contributes the one with the lowest hash.
func judgesOf(ws []*event) []*event {
	byCreator := make(map[int]*event)
	for _, w := range ws {
		if w.fame != fameYes {
			continue
		}
		if cur, ok := byCreator[w.creator]; !ok || w.ev.Hash().Compare(cur.ev.Hash()) < 0 {
			byCreator[w.creator] = w
		}
	}
	judges := make([]*event, 0, len(byCreator))
	for _, j := range byCreator {
		judges = append(judges, j)
	}
	slices.SortFunc(judges, func(a, b *event) int { return cmp.Compare(a.creator, b.creator) })
	return judges
}

func whitenerOf(judges []*event) hashgraph.Hash {
	var w hashgraph.Hash
	for _, j := range judges {
		sig := j.ev.Signature
		for i := 0; i < len(w) && i < len(sig); i++ {
			w[i] ^= sig[i]
		}
	}
	return w
}

// receivedBy returns the events, not yet in consensus, that every judge
// descends from.
func (e *Engine) receivedBy(judges []*event) []*event {
	var out []*event
	visited := make(map[*event]bool)
	stack := []*event{judges[0]}
	for len(stack) > 0 {
		a := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[a] || a.consensus {
			continue
		}
		visited[a] = true
		if e.seenByAll(judges, a) {
			out = append(out, a)
		}
		stack = append(stack, a.parents()...)
	}
	return out
}

// medianTime returns the median over the judges of the creation time of the
// first event by the judge's creator that descends from x.
func (e *Engine) medianTime(judges []*event, x *event) time.Time {
	times := make([]time.Time, 0, len(judges))
	for _, j := range judges {
		g := x.firstDesc[j.creator]
		if g == noDescendant {
			continue
		}
		if d, ok := e.byCreatorGen[creatorGen{j.creator, g}]; ok {
			times = append(times, d.ev.CreationTime)
		}
	}
	if len(times) == 0 {
		return x.ev.CreationTime
	}
	slices.SortFunc(times, time.Time.Compare)
	return times[len(times)/2]
}

func (e *Engine) recordJudgeInfo(r int64, judges []*event) {
	threshold := e.AncientThreshold()
	for i, j := range judges {
		ind := j.ev.AncientIndicator(e.cfg.AncientMode)
		if i == 0 || ind < threshold {
			threshold = ind
		}
	}
	if n := len(e.judgeInfo); n > 0 {
		threshold = max(threshold, e.judgeInfo[n-1].MinimumJudgeAncientThreshold)
	}
	e.judgeInfo = append(e.judgeInfo, hashgraph.MinimumJudgeInfo{
		Round:                        r,
		MinimumJudgeAncientThreshold: threshold,
	})
	if over := len(e.judgeInfo) - e.cfg.RoundsNonAncient; over > 0 {
		e.judgeInfo = slices.Clone(e.judgeInfo[over:])
	}
}

func (e *Engine) buildSnapshot(r int64, ws, judges []*event) hashgraph.ConsensusSnapshot {
	judgeHashes := make([]hashgraph.Hash, len(judges))
	for i, j := range judges {
		judgeHashes[i] = j.ev.Hash()
	}
	sorted := slices.Clone(ws)
	slices.SortFunc(sorted, func(a, b *event) int {
		if c := cmp.Compare(a.creator, b.creator); c != 0 {
			return c
		}
		return a.ev.Hash().Compare(b.ev.Hash())
	})
	witnessHashes := make([]hashgraph.Hash, len(sorted))
	for i, w := range sorted {
		witnessHashes[i] = w.ev.Hash()
	}
	return hashgraph.ConsensusSnapshot{
		Round:               r,
		JudgeHashes:         judgeHashes,
		WitnessHashes:       witnessHashes,
		MinimumJudgeInfo:    slices.Clone(e.judgeInfo),
		NextConsensusNumber: e.nextOrder,
		ConsensusTimestamp:  e.lastTimestamp,
	}
}

// forgetVotesOn drops cached votes on witnesses whose fame is settled.
func (e *Engine) forgetVotesOn(ws []*event) {
	for r := e.lastDecided + 1; r <= e.maxRound; r++ {
		for _, x := range e.witnesses[r] {
			for _, y := range ws {
				delete(x.votes, y)
			}
		}
	}
}

// prune drops events and witness tables that fell below the ancient
// threshold.
func (e *Engine) prune() {
	threshold := e.AncientThreshold()
	e.index.ShiftWindow(threshold, func(_ hashgraph.EventDescriptor, x *event) {
		delete(e.events, x.ev.Hash())
		key := creatorGen{x.creator, x.ev.Generation()}
		if e.byCreatorGen[key] == x {
			delete(e.byCreatorGen, key)
		}
		for _, c := range x.children {
			if c.selfParent == x {
				c.selfParent = nil
			}
			if c.otherParent == x {
				c.otherParent = nil
			}
		}
		x.children = nil
		x.votes = nil
	})
	if len(e.judgeInfo) == 0 {
		return
	}
	oldest := e.judgeInfo[0].Round
	for r := range e.witnesses {
		if r < oldest {
			delete(e.witnesses, r)
		}
	}
}
