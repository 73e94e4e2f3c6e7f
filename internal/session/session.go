// Package session runs one participant's projection of a match. Every
// participant applies the same event stream to an identical state machine;
// the one holding the Authority capability additionally persists state,
// resolves liar calls, forces timeouts and drives the table's bots.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/okalkan/liars-dice-backend/internal/bot"
	"github.com/okalkan/liars-dice-backend/internal/channel"
	"github.com/okalkan/liars-dice-backend/internal/dice"
	"github.com/okalkan/liars-dice-backend/internal/game"
	"github.com/okalkan/liars-dice-backend/internal/store"
)

// Timings are the protocol's pacing knobs. Tests shrink them; production
// uses Defaults.
type Timings struct {
	StartDelay   time.Duration // before the first game:start broadcast, lets others subscribe
	RevealJitter time.Duration // max random delay before sending own dice
	ResolveDelay time.Duration // dice stay visible before round:end
	RoundDelay   time.Duration // pause before the next round starts
	EndDelay     time.Duration // pause before game:end
	RecoverWait  time.Duration // how long to wait for game:start before polling the snapshot
	BotDelay     func() time.Duration
}

// DefaultTimings matches the pacing human players expect.
func DefaultTimings() Timings {
	return Timings{
		StartDelay:   1500 * time.Millisecond,
		RevealJitter: 500 * time.Millisecond,
		ResolveDelay: 3 * time.Second,
		RoundDelay:   4 * time.Second,
		EndDelay:     2 * time.Second,
		RecoverWait:  5 * time.Second,
		BotDelay:     bot.Delay,
	}
}

// Config wires a session to its room. PlayerID may be empty for a session
// that only carries authority (a seatless table runner); Auth may be nil for
// a plain participant. The original host is both at once.
type Config struct {
	RoomID   string
	RoomCode string
	PlayerID string
	Username string
	Room     *channel.Room
	Store    store.Gateway
	Auth     *Authority
	Logger   *zap.Logger
	Timings  Timings
}

type sessionMsg interface{ isSessionMsg() }

type intentBid struct {
	Quantity int
	Value    int
	Err      chan error
}

type intentLiar struct{ Err chan error }

// task is a scheduled continuation; Gen pins it to the round it was
// scheduled in so a round transition cancels everything stale as a unit.
type task struct {
	Gen int
	Fn  func()
}

type getView struct{ Reply chan View }

func (intentBid) isSessionMsg()  {}
func (intentLiar) isSessionMsg() {}
func (task) isSessionMsg()       {}
func (getView) isSessionMsg()    {}

// View is a race-free copy of the session for callers outside the loop.
type View struct {
	State   *game.State
	MyDice  []int
	Log     []LogEntry
	Ranking []string
}

// Session is the actor. All fields below cfg are owned by the loop
// goroutine.
type Session struct {
	cfg    Config
	logger *zap.Logger
	inbox  chan sessionMsg
	sub    channel.Subscription
	timer  *turnTimer
	ctx    context.Context
	cancel context.CancelFunc

	state     *game.State
	myDice    []int
	botDice   map[string][]int
	reveals   map[string][]int
	resolved  bool
	callerID  string
	elimOrder []string
	log       []LogEntry
	gen       int
}

// New subscribes to the room channel and starts the session loop, including
// bootstrap/recovery.
func New(parent context.Context, cfg Config) *Session {
	if cfg.Timings.BotDelay == nil {
		cfg.Timings.BotDelay = bot.Delay
	}

	subID := cfg.PlayerID
	if subID == "" {
		subID = "table:" + cfg.RoomCode
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		cfg:     cfg,
		logger:  cfg.Logger.Named("session").With(zap.String("room", cfg.RoomCode), zap.String("player", subID)),
		inbox:   make(chan sessionMsg, 64),
		sub:     cfg.Room.Subscribe(subID),
		timer:   newTurnTimer(cfg.Auth != nil),
		botDice: make(map[string][]int),
		reveals: make(map[string][]int),
		ctx:     ctx,
		cancel:  cancel,
	}
	go s.run()
	return s
}

// MakeBid submits a bid intent. Invalid intents are rejected locally; no
// event reaches the network.
func (s *Session) MakeBid(quantity, value int) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- intentBid{Quantity: quantity, Value: value, Err: reply}:
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// CallLiar submits a liar-call intent, validated the same way.
func (s *Session) CallLiar() error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- intentLiar{Err: reply}:
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// View snapshots the session state for rendering and tests.
func (s *Session) View() View {
	reply := make(chan View, 1)
	select {
	case s.inbox <- getView{Reply: reply}:
	case <-s.ctx.Done():
		return View{}
	}
	select {
	case v := <-reply:
		return v
	case <-s.ctx.Done():
		return View{}
	}
}

// Stop tears the session down; outstanding scheduled work is dropped.
func (s *Session) Stop() {
	s.cancel()
}

func (s *Session) run() {
	s.bootstrap()
	for {
		select {
		case <-s.ctx.Done():
			return

		case m := <-s.inbox:
			s.handleMsg(m)

		case ev, ok := <-s.sub.Events:
			if !ok {
				s.logger.Info("room channel closed, stopping session")
				s.cancel()
				return
			}
			s.handleEvent(ev)

		case p, ok := <-s.sub.Presence:
			if ok {
				s.handlePresence(p)
			}

		case f := <-s.timer.C():
			s.handleTimerFire(f)
		}
	}
}

// bootstrap either recovers from the persisted snapshot or, as authority,
// creates the session and broadcasts the opening game:start. A non-host
// with no snapshot waits for the broadcast, with a bounded fallback poll in
// case the start event raced past it.
func (s *Session) bootstrap() {
	room, err := s.cfg.Store.FetchRoom(s.ctx, s.cfg.RoomID)
	if err != nil {
		s.logger.Error("fetch room failed", zap.Error(err))
		return
	}

	snap, err := s.cfg.Store.FetchGameSession(s.ctx, s.cfg.RoomID)
	if err == nil && snap.Status != game.StatusFinished {
		snap.Settings = room.Settings
		s.adopt(*snap, true)
		return
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("fetch snapshot failed", zap.Error(err))
	}

	if s.cfg.Auth != nil {
		state, err := s.cfg.Store.CreateGameSession(s.ctx, room)
		if err != nil {
			s.logger.Error("create game session failed", zap.Error(err))
			return
		}
		start := state.Clone()
		// Give the other participants a beat to subscribe before the
		// opening broadcast.
		s.schedule(s.cfg.Timings.StartDelay, func() {
			s.cfg.Room.Publish(game.GameStart{State: start})
		})
		return
	}

	s.schedule(s.cfg.Timings.RecoverWait, func() {
		if s.state != nil {
			return
		}
		snap, err := s.cfg.Store.FetchGameSession(s.ctx, s.cfg.RoomID)
		if err != nil {
			s.logger.Warn("start broadcast missed and no snapshot yet", zap.Error(err))
			return
		}
		if snap.Status != game.StatusFinished {
			snap.Settings = room.Settings
			s.adopt(*snap, true)
		}
	})
}

// adopt replaces the local projection wholesale, as a game:start application
// or a snapshot recovery.
func (s *Session) adopt(state game.State, recovered bool) {
	s.gen++
	st := state.Clone()
	s.state = &st
	s.reveals = make(map[string][]int)
	s.resolved = false
	s.callerID = ""

	if seat := st.Player(s.cfg.PlayerID); seat != nil && !seat.IsEliminated {
		s.myDice = dice.Roll(seat.DiceCount)
	} else {
		s.myDice = nil
	}

	if s.cfg.Auth != nil {
		// Bots have no client of their own; the authority rolls and keeps
		// their dice.
		s.botDice = make(map[string][]int)
		for _, p := range st.Players {
			if p.IsBot && p.Active() {
				s.botDice[p.ID] = dice.Roll(p.DiceCount)
			}
		}
	}

	s.timer.Configure(st.Settings.TurnTimer)
	if st.Status == game.StatusActive {
		s.timer.Restart(st.CurrentTurnPlayerID)
	}

	if recovered {
		s.addLog("Reconnected to game", LogSystem)
	} else {
		s.addLog(fmt.Sprintf("Round %d started — %d dice on the table",
			st.Round, game.TotalDice(st.Players)), LogRound)
	}
	s.scheduleBotTurn()
}

func (s *Session) handleMsg(m sessionMsg) {
	switch msg := m.(type) {
	case intentBid:
		bid := dice.Bid{PlayerID: s.cfg.PlayerID, Quantity: msg.Quantity, Value: msg.Value}
		if err := game.ValidateBid(s.state, s.cfg.PlayerID, bid); err != nil {
			msg.Err <- err
			return
		}
		s.cfg.Room.Publish(game.BidMade{Bid: bid})
		msg.Err <- nil

	case intentLiar:
		if err := game.ValidateLiarCall(s.state, s.cfg.PlayerID); err != nil {
			msg.Err <- err
			return
		}
		s.cfg.Room.Publish(game.LiarCalled{CallerID: s.cfg.PlayerID})
		msg.Err <- nil

	case task:
		if msg.Gen == s.gen {
			msg.Fn()
		}

	case getView:
		msg.Reply <- s.view()
	}
}

func (s *Session) handleEvent(ev game.Event) {
	switch e := ev.(type) {
	case game.GameStart:
		s.adopt(e.State, false)
	case game.BidMade:
		s.applyBid(e)
	case game.LiarCalled:
		s.applyLiar(e)
	case game.DiceRevealed:
		s.applyReveal(e)
	case game.RoundEnded:
		s.applyRoundEnd(e)
	case game.GameEnded:
		s.applyGameEnd(e)
	case game.TurnTimedOut:
		s.applyTimeout(e)
	case game.PlayerEliminated:
		s.applyEliminated(e.PlayerID)
	case game.PlayerDisconnected:
		s.applyDisconnected(e)
	case game.ChatMessage:
		// Chat rides the same channel but never touches the state machine.
	}
}

func (s *Session) applyBid(e game.BidMade) {
	if s.state == nil {
		return
	}

	if e.IsSkip() {
		// Forced advance past a disconnected player; lastBid is untouched.
		s.state.CurrentTurnPlayerID = e.SkipTo
		s.timer.Restart(e.SkipTo)
		s.addLog("Turn skipped to "+s.username(e.SkipTo), LogSystem)
		if s.cfg.Auth != nil {
			s.cfg.Auth.persistSkip(s.logger, e.SkipTo)
		}
		s.scheduleBotTurn()
		return
	}

	if s.state.Status != game.StatusActive {
		return
	}

	bid := e.Bid
	s.state.LastBid = &bid
	next := game.NextTurnPlayerID(s.state.TurnOrder, bid.PlayerID, s.state.Players)
	s.state.CurrentTurnPlayerID = next
	s.timer.Restart(next)
	s.addLog(fmt.Sprintf("%s bid %dx %d's", s.username(bid.PlayerID), bid.Quantity, bid.Value), LogBid)

	if s.cfg.Auth != nil {
		s.cfg.Auth.persistTurn(s.logger, bid, next)
	}
	s.scheduleBotTurn()
}

func (s *Session) applyLiar(e game.LiarCalled) {
	if s.state == nil || s.state.Status != game.StatusActive || s.state.LastBid == nil {
		return
	}

	s.state.Status = game.StatusRevealing
	s.callerID = e.CallerID
	s.timer.Stop()
	s.addLog(s.username(e.CallerID)+" called LIAR!", LogLiar)

	// Everyone shares their own dice after a short jitter so the channel
	// does not take the whole table's reveals in the same instant.
	if seat := s.seat(); seat != nil && seat.Active() && len(s.myDice) > 0 {
		mine := append([]int(nil), s.myDice...)
		me := s.cfg.PlayerID
		s.schedule(s.jitter(), func() {
			s.cfg.Room.Publish(game.DiceRevealed{Players: []game.PlayerDice{{ID: me, Dice: mine}}})
		})
	}

	if s.cfg.Auth != nil && len(s.botDice) > 0 {
		bots := make([]game.PlayerDice, 0, len(s.botDice))
		for id, d := range s.botDice {
			if p := s.state.Player(id); p != nil && p.Active() {
				bots = append(bots, game.PlayerDice{ID: id, Dice: append([]int(nil), d...)})
			}
		}
		if len(bots) > 0 {
			s.schedule(s.jitter(), func() {
				s.cfg.Room.Publish(game.DiceRevealed{Players: bots})
			})
		}
	}
}

func (s *Session) applyReveal(e game.DiceRevealed) {
	if s.state == nil {
		return
	}
	// Idempotent accumulation: a replayed reveal for a known player is a
	// no-op.
	for _, p := range e.Players {
		if _, ok := s.reveals[p.ID]; !ok {
			s.reveals[p.ID] = append([]int(nil), p.Dice...)
		}
	}
	s.maybeResolve()
}

// maybeResolve fires once every currently active player has revealed; only
// the authority computes the outcome and schedules round:end.
func (s *Session) maybeResolve() {
	if s.state == nil || s.state.Status != game.StatusRevealing || s.resolved {
		return
	}
	for _, p := range game.ActivePlayers(s.state.Players) {
		if _, ok := s.reveals[p.ID]; !ok {
			return
		}
	}
	if s.cfg.Auth == nil || s.state.LastBid == nil {
		return
	}
	s.resolved = true

	var allDice []int
	for _, d := range s.reveals {
		allDice = append(allDice, d...)
	}
	result := dice.EvaluateLiarCall(*s.state.LastBid, allDice, s.state.Settings.JokerRule)

	caller := s.callerID
	if caller == "" {
		// The caller is whoever held the turn when the call was made.
		caller = s.state.CurrentTurnPlayerID
	}

	var loserID, reason string
	if result.BidWasCorrect {
		loserID = caller
		reason = fmt.Sprintf("Bid was correct! (%dx %d's found, bid was %d)",
			result.ActualCount, result.BidValue, result.BidQuantity)
	} else {
		loserID = s.state.LastBid.PlayerID
		reason = fmt.Sprintf("Bid was wrong! (Only %dx %d's found, bid was %d)",
			result.ActualCount, result.BidValue, result.BidQuantity)
	}

	// Keep the dice on display before announcing the outcome.
	s.schedule(s.cfg.Timings.ResolveDelay, func() {
		s.cfg.Room.Publish(game.RoundEnded{LoserID: loserID, Reason: reason})
	})
}

func (s *Session) applyRoundEnd(e game.RoundEnded) {
	if s.state == nil || s.state.Status == game.StatusFinished {
		return
	}

	next, outcome := game.ApplyRoundEnd(*s.state, e.LoserID)
	s.state = &next
	s.timer.Stop()
	s.addLog(fmt.Sprintf("%s loses a die! %s", s.username(e.LoserID), e.Reason), LogReveal)

	if outcome.Eliminated {
		s.recordElimination(e.LoserID)
	}

	if outcome.Finished {
		if s.cfg.Auth != nil {
			winnerID := outcome.WinnerID
			s.schedule(s.cfg.Timings.EndDelay, func() {
				s.cfg.Room.Publish(game.GameEnded{WinnerID: winnerID})
			})
		}
		return
	}

	if s.cfg.Auth != nil {
		loserID := e.LoserID
		s.schedule(s.cfg.Timings.RoundDelay, func() {
			s.startNextRound(loserID)
		})
	}
}

// startNextRound is authority-only: build, persist and broadcast the next
// round's state. The loser opens, unless the loss eliminated them.
func (s *Session) startNextRound(loserID string) {
	if s.state == nil || s.state.Status != game.StatusRoundEnd {
		return
	}
	if len(game.ActivePlayers(s.state.Players)) <= 1 {
		return
	}

	next := s.state.Clone()
	for i := range next.Players {
		next.Players[i].Dice = nil
	}
	next.Round++
	next.LastBid = nil
	next.Status = game.StatusActive

	opener := loserID
	if p := next.Player(loserID); p == nil || !p.Active() {
		opener = game.NextTurnPlayerID(next.TurnOrder, loserID, next.Players)
	}
	next.CurrentTurnPlayerID = opener

	s.cfg.Auth.persistNewRound(s.logger, &next)
	s.cfg.Room.Publish(game.GameStart{State: next})
}

func (s *Session) applyGameEnd(e game.GameEnded) {
	if s.state == nil {
		return
	}
	s.state.Status = game.StatusFinished
	s.state.WinnerID = e.WinnerID
	s.timer.Stop()
	s.addLog(fmt.Sprintf("Game Over! %s wins!", s.username(e.WinnerID)), LogSystem)

	if s.cfg.Auth != nil {
		s.cfg.Auth.persistFinish(s.logger, s.state)
	}
}

func (s *Session) applyTimeout(e game.TurnTimedOut) {
	if s.state == nil {
		return
	}
	s.addLog(s.username(e.PlayerID)+" ran out of time", LogSystem)
}

func (s *Session) applyEliminated(playerID string) {
	if s.state == nil {
		return
	}
	p := s.state.Player(playerID)
	if p == nil || p.IsEliminated {
		return
	}
	p.IsEliminated = true
	p.DiceCount = 0
	s.recordElimination(playerID)
}

func (s *Session) applyDisconnected(e game.PlayerDisconnected) {
	if s.state == nil {
		return
	}
	p := s.state.Player(e.PlayerID)
	if p == nil || p.IsBot || p.IsEliminated {
		return
	}

	wasTheirTurn := s.state.CurrentTurnPlayerID == e.PlayerID

	// No grace at this layer: presence already spent the grace window
	// before this event was ever emitted.
	p.IsDisconnected = true
	p.IsEliminated = true
	p.DiceCount = 0
	s.addLog(s.username(e.PlayerID)+" disconnected", LogSystem)
	s.recordElimination(e.PlayerID)

	active := game.ActivePlayers(s.state.Players)
	if len(active) <= 1 {
		s.state.Status = game.StatusFinished
		if len(active) == 1 {
			s.state.WinnerID = active[0].ID
		}
		if s.cfg.Auth != nil {
			winnerID := s.state.WinnerID
			s.schedule(s.cfg.Timings.EndDelay, func() {
				s.cfg.Room.Publish(game.GameEnded{WinnerID: winnerID})
			})
		}
		return
	}

	if wasTheirTurn && s.cfg.Auth != nil && s.state.Status == game.StatusActive {
		next := game.NextTurnPlayerID(s.state.TurnOrder, e.PlayerID, s.state.Players)
		s.cfg.Room.Publish(game.BidMade{
			Bid:    dice.Bid{PlayerID: game.SkipPlayerID},
			SkipTo: next,
		})
	}

	// A pending reveal may now be complete without the departed player.
	s.maybeResolve()
}

func (s *Session) handlePresence(p channel.Presence) {
	switch p.Type {
	case channel.PresenceTimeout:
		if s.cfg.Auth == nil || s.state == nil {
			return
		}
		seat := s.state.Player(p.PlayerID)
		if seat == nil || seat.IsBot || seat.IsEliminated {
			return
		}
		s.cfg.Room.Publish(game.PlayerDisconnected{PlayerID: p.PlayerID})

	case channel.PresenceJoin, channel.PresenceLeave:
		s.logger.Debug("presence", zap.String("player", p.PlayerID), zap.String("type", string(p.Type)))
	}
}

// handleTimerFire is the authority's forced-progress path: announce the
// timeout, then act on the idle player's behalf.
func (s *Session) handleTimerFire(f timerFire) {
	if !s.timer.Valid(f) {
		return
	}
	if s.state == nil || s.state.Status != game.StatusActive || s.state.CurrentTurnPlayerID != f.PlayerID {
		return
	}

	s.cfg.Room.Publish(game.TurnTimedOut{PlayerID: f.PlayerID})

	if s.state.LastBid != nil {
		s.cfg.Room.Publish(game.LiarCalled{CallerID: f.PlayerID})
	} else {
		// First bid of the round: the smallest meaningful opener.
		s.cfg.Room.Publish(game.BidMade{Bid: dice.Bid{PlayerID: f.PlayerID, Quantity: 1, Value: 2}})
	}
}

// scheduleBotTurn queues the current bot's move when the authority session
// sees a bot holding the turn.
func (s *Session) scheduleBotTurn() {
	if s.cfg.Auth == nil || s.state == nil || s.state.Status != game.StatusActive {
		return
	}
	botID := s.state.CurrentTurnPlayerID
	seat := s.state.Player(botID)
	if seat == nil || !seat.IsBot || !seat.Active() {
		return
	}

	s.schedule(s.cfg.Timings.BotDelay(), func() {
		if s.state == nil || s.state.Status != game.StatusActive || s.state.CurrentTurnPlayerID != botID {
			return
		}
		decision := bot.Decide(s.botDice[botID], s.state.LastBid, game.TotalDice(s.state.Players), s.state.Settings.JokerRule)
		if decision.Action == bot.ActionLiar && s.state.LastBid != nil {
			s.cfg.Room.Publish(game.LiarCalled{CallerID: botID})
			return
		}
		bid := decision.Bid
		bid.PlayerID = botID
		if !dice.IsValidBid(bid, s.state.LastBid) {
			bid = dice.MinimumNextBid(*s.state.LastBid)
			bid.PlayerID = botID
		}
		s.cfg.Room.Publish(game.BidMade{Bid: bid})
	})
}

// schedule posts fn back into the loop after d, pinned to the current round
// generation.
func (s *Session) schedule(d time.Duration, fn func()) {
	gen := s.gen
	time.AfterFunc(d, func() {
		select {
		case s.inbox <- task{Gen: gen, Fn: fn}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Session) jitter() time.Duration {
	limit := s.cfg.Timings.RevealJitter
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(limit)))
}

func (s *Session) recordElimination(playerID string) {
	for _, id := range s.elimOrder {
		if id == playerID {
			return
		}
	}
	s.elimOrder = append(s.elimOrder, playerID)
	s.addLog(s.username(playerID)+" has been eliminated!", LogElimination)
}

func (s *Session) seat() *game.GamePlayer {
	if s.state == nil || s.cfg.PlayerID == "" {
		return nil
	}
	return s.state.Player(s.cfg.PlayerID)
}

func (s *Session) username(playerID string) string {
	if s.state != nil {
		if p := s.state.Player(playerID); p != nil {
			return p.Username
		}
	}
	return "Someone"
}

func (s *Session) addLog(message string, kind LogKind) {
	s.log = append([]LogEntry{{Message: message, Kind: kind, At: time.Now()}}, s.log...)
}

func (s *Session) view() View {
	v := View{
		MyDice: append([]int(nil), s.myDice...),
		Log:    append([]LogEntry(nil), s.log...),
	}
	if s.state != nil {
		st := s.state.Clone()
		v.State = &st
		if st.Status == game.StatusFinished {
			v.Ranking = s.ranking()
		}
	}
	return v
}

// ranking reverses the elimination order behind the winner: last out is the
// runner-up.
func (s *Session) ranking() []string {
	var out []string
	if s.state.WinnerID != "" {
		out = append(out, s.state.WinnerID)
	}
	for i := len(s.elimOrder) - 1; i >= 0; i-- {
		out = append(out, s.elimOrder[i])
	}
	return out
}
