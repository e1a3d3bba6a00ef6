package consensus

// decideFame runs the election for every undecided witness above the last
// decided round. Any voter that reaches a supermajority decides, so the
// iteration order does not affect the outcome.
func (e *Engine) decideFame() {
	for r := e.lastDecided + 1; r <= e.maxRound-2; r++ {
		for _, y := range e.witnesses[r] {
			if y.fame == fameUndecided {
				e.elect(y)
			}
		}
	}
}

func (e *Engine) elect(y *event) {
	coinFreq := int64(e.cfg.CoinFrequency)
	for r := y.round + 2; r <= e.maxRound; r++ {
		if (r-y.round)%coinFreq == 0 {
			continue
		}
		for _, x := range e.witnesses[r] {
			yes, no := e.tally(x, y)
			if e.supermajority(max(yes, no)) {
				if yes >= no {
					y.fame = fameYes
				} else {
					y.fame = fameNo
				}
				return
			}
		}
	}
}

// tally sums, by creator weight, the votes on y of the previous-round
// witnesses that x strongly sees.
func (e *Engine) tally(x, y *event) (yes, no int64) {
	counted := make(map[int]bool)
	for _, s := range e.witnesses[x.round-1] {
		if counted[s.creator] || !e.stronglySees(x, s) {
			continue
		}
		counted[s.creator] = true
		if e.vote(s, y) {
			yes += e.weight(s.creator)
		} else {
			no += e.weight(s.creator)
		}
	}
	return yes, no
}

// vote returns witness x's vote on the fame of witness y from an earlier
// round.
func (e *Engine) vote(x, y *event) bool {
	if v, ok := x.votes[y]; ok {
		return v
	}
	var v bool
	d := x.round - y.round
	switch {
	case d <= 0:
		v = false
	case d == 1:
		v = e.sees(x, y)
	default:
		yes, no := e.tally(x, y)
		v = yes >= no
		if d%int64(e.cfg.CoinFrequency) == 0 && !e.supermajority(max(yes, no)) {
			v = coin(x)
		}
	}
	if x.votes == nil {
		x.votes = make(map[*event]bool)
	}
	x.votes[y] = v
	return v
}

// coin draws a pseudo-random bit from the voter's signature.
func coin(x *event) bool {
	sig := x.ev.Signature
	if len(sig) == 0 {
		return false
	}
	return sig[len(sig)/2]&1 == 1
}
