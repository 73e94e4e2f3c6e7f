package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/okalkan/liars-dice-backend/internal/dice"
	"github.com/okalkan/liars-dice-backend/internal/game"
)

type roomRow struct {
	ID        string `gorm:"primaryKey"`
	Code      string `gorm:"uniqueIndex"`
	HostID    string
	Settings  datatypes.JSON
	Status    string `gorm:"index"`
	CreatedAt time.Time
}

func (roomRow) TableName() string { return "rooms" }

type roomPlayerRow struct {
	ID       string `gorm:"primaryKey"`
	RoomID   string `gorm:"uniqueIndex:idx_room_player"`
	PlayerID string `gorm:"uniqueIndex:idx_room_player"`
	Username string
	IsReady  bool
	IsBot    bool
	JoinedAt time.Time
}

func (roomPlayerRow) TableName() string { return "room_players" }

type gameSessionRow struct {
	ID                  string `gorm:"primaryKey"`
	RoomID              string `gorm:"uniqueIndex"`
	RoomCode            string
	Players             datatypes.JSON
	CurrentTurnPlayerID string
	Round               int
	LastBid             datatypes.JSON
	Status              string
	WinnerID            string
	TurnOrder           datatypes.JSON
	UpdatedAt           time.Time
}

func (gameSessionRow) TableName() string { return "game_sessions" }

type chatMessageRow struct {
	ID        string `gorm:"primaryKey"`
	RoomID    string `gorm:"index"`
	PlayerID  string
	Username  string
	Message   string
	IsSystem  bool
	CreatedAt time.Time `gorm:"index"`
}

func (chatMessageRow) TableName() string { return "chat_messages" }

// Postgres implements Gateway on gorm. The host is the single writer for
// session rows, so plain last-write-wins updates are acceptable here.
type Postgres struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Gateway = (*Postgres)(nil)

// OpenPostgres connects and migrates the schema.
func OpenPostgres(dsn string, logger *zap.Logger) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&roomRow{}, &roomPlayerRow{}, &gameSessionRow{}, &chatMessageRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Postgres{db: db, logger: logger.Named("store")}, nil
}

func (p *Postgres) CreateRoom(ctx context.Context, hostID, username string, settings game.Settings) (*Room, error) {
	code, err := p.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}

	row := roomRow{
		ID:        uuid.NewString(),
		Code:      code,
		HostID:    hostID,
		Settings:  settingsJSON,
		Status:    string(RoomWaiting),
		CreatedAt: time.Now(),
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Create(&roomPlayerRow{
			ID:       uuid.NewString(),
			RoomID:   row.ID,
			PlayerID: hostID,
			Username: username,
			JoinedAt: time.Now(),
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return rowToRoom(row)
}

func (p *Postgres) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < 10; i++ {
		code, err := dice.GenerateRoomCode(dice.RoomCodeLength)
		if err != nil {
			return "", err
		}
		var count int64
		if err := p.db.WithContext(ctx).Model(&roomRow{}).Where("code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
		p.logger.Debug("room code collision, regenerating", zap.String("code", code))
	}
	return "", ErrCodeExhausted
}

func (p *Postgres) FetchRoom(ctx context.Context, roomID string) (*Room, error) {
	var row roomRow
	if err := p.db.WithContext(ctx).First(&row, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rowToRoom(row)
}

func (p *Postgres) FetchRoomByCode(ctx context.Context, code string) (*Room, error) {
	var row roomRow
	if err := p.db.WithContext(ctx).First(&row, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rowToRoom(row)
}

func (p *Postgres) ListOpenRooms(ctx context.Context) ([]RoomListing, error) {
	var rows []roomRow
	if err := p.db.WithContext(ctx).
		Where("status = ?", string(RoomWaiting)).
		Order("created_at desc").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]RoomListing, 0, len(rows))
	for _, row := range rows {
		room, err := rowToRoom(row)
		if err != nil {
			return nil, err
		}
		var members []roomPlayerRow
		if err := p.db.WithContext(ctx).Where("room_id = ?", row.ID).Find(&members).Error; err != nil {
			return nil, err
		}
		listing := RoomListing{Room: *room, PlayerCount: len(members)}
		for _, m := range members {
			if m.PlayerID == row.HostID {
				listing.HostUsername = m.Username
				break
			}
		}
		out = append(out, listing)
	}
	return out, nil
}

func (p *Postgres) UpdateRoomStatus(ctx context.Context, roomID string, status RoomStatus) error {
	return p.db.WithContext(ctx).Model(&roomRow{}).
		Where("id = ?", roomID).
		Update("status", string(status)).Error
}

func (p *Postgres) TransferHost(ctx context.Context, roomID, playerID string) error {
	return p.db.WithContext(ctx).Model(&roomRow{}).
		Where("id = ?", roomID).
		Update("host_id", playerID).Error
}

func (p *Postgres) DeleteRoom(ctx context.Context, roomID string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&roomPlayerRow{}, "room_id = ?", roomID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&gameSessionRow{}, "room_id = ?", roomID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&chatMessageRow{}, "room_id = ?", roomID).Error; err != nil {
			return err
		}
		return tx.Delete(&roomRow{}, "id = ?", roomID).Error
	})
}

func (p *Postgres) AddPlayer(ctx context.Context, m Membership) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	// Duplicate joins are tolerated: the unique (room, player) index makes
	// the insert a no-op.
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "player_id"}},
			DoNothing: true,
		}).
		Create(&roomPlayerRow{
			ID:       uuid.NewString(),
			RoomID:   m.RoomID,
			PlayerID: m.PlayerID,
			Username: m.Username,
			IsReady:  m.IsReady,
			IsBot:    m.IsBot,
			JoinedAt: m.JoinedAt,
		}).Error
}

func (p *Postgres) RemovePlayer(ctx context.Context, roomID, playerID string) error {
	return p.db.WithContext(ctx).
		Delete(&roomPlayerRow{}, "room_id = ? AND player_id = ?", roomID, playerID).Error
}

func (p *Postgres) ListPlayers(ctx context.Context, roomID string) ([]Membership, error) {
	var rows []roomPlayerRow
	if err := p.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]Membership, len(rows))
	for i, row := range rows {
		out[i] = Membership{
			RoomID:   row.RoomID,
			PlayerID: row.PlayerID,
			Username: row.Username,
			IsReady:  row.IsReady,
			IsBot:    row.IsBot,
			JoinedAt: row.JoinedAt,
		}
	}
	return out, nil
}

func (p *Postgres) SetReady(ctx context.Context, roomID, playerID string, ready bool) error {
	return p.db.WithContext(ctx).Model(&roomPlayerRow{}).
		Where("room_id = ? AND player_id = ?", roomID, playerID).
		Update("is_ready", ready).Error
}

func (p *Postgres) CreateGameSession(ctx context.Context, room *Room) (*game.State, error) {
	members, err := p.ListPlayers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, ErrTooFewPlayers
	}

	state := buildInitialState(room, members)

	row, err := sessionToRow(room.ID, &state)
	if err != nil {
		return nil, err
	}
	row.ID = uuid.NewString()

	if err := p.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create game session: %w", err)
	}
	return &state, nil
}

func (p *Postgres) FetchGameSession(ctx context.Context, roomID string) (*game.State, error) {
	var row gameSessionRow
	if err := p.db.WithContext(ctx).First(&row, "room_id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rowToSession(row)
}

func (p *Postgres) UpdateGameSession(ctx context.Context, roomID string, upd SessionUpdate) error {
	updates := map[string]any{"updated_at": time.Now()}

	if upd.Players != nil {
		players, err := json.Marshal(upd.Players)
		if err != nil {
			return fmt.Errorf("marshal players: %w", err)
		}
		updates["players"] = datatypes.JSON(players)
	}
	if upd.CurrentTurn != nil {
		updates["current_turn_player_id"] = *upd.CurrentTurn
	}
	if upd.Round != nil {
		updates["round"] = *upd.Round
	}
	if upd.ClearLastBid {
		updates["last_bid"] = gorm.Expr("NULL")
	} else if upd.LastBid != nil {
		bid, err := json.Marshal(upd.LastBid)
		if err != nil {
			return fmt.Errorf("marshal bid: %w", err)
		}
		updates["last_bid"] = datatypes.JSON(bid)
	}
	if upd.Status != nil {
		updates["status"] = string(*upd.Status)
	}
	if upd.WinnerID != nil {
		updates["winner_id"] = *upd.WinnerID
	}

	return p.db.WithContext(ctx).Model(&gameSessionRow{}).
		Where("room_id = ?", roomID).
		Updates(updates).Error
}

func (p *Postgres) SaveChatMessage(ctx context.Context, msg game.ChatMessage) error {
	return p.db.WithContext(ctx).Create(&chatMessageRow{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		PlayerID:  msg.PlayerID,
		Username:  msg.Username,
		Message:   msg.Message,
		IsSystem:  msg.IsSystem,
		CreatedAt: msg.CreatedAt,
	}).Error
}

func (p *Postgres) ChatHistory(ctx context.Context, roomID string, limit int) ([]game.ChatMessage, error) {
	var rows []chatMessageRow
	if err := p.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	// Reverse into oldest-first order for display.
	out := make([]game.ChatMessage, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = game.ChatMessage{
			ID:        row.ID,
			RoomID:    row.RoomID,
			PlayerID:  row.PlayerID,
			Username:  row.Username,
			Message:   row.Message,
			IsSystem:  row.IsSystem,
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}

func rowToRoom(row roomRow) (*Room, error) {
	var settings game.Settings
	if len(row.Settings) > 0 {
		if err := json.Unmarshal(row.Settings, &settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	return &Room{
		ID:        row.ID,
		Code:      row.Code,
		HostID:    row.HostID,
		Settings:  settings,
		Status:    RoomStatus(row.Status),
		CreatedAt: row.CreatedAt,
	}, nil
}

func sessionToRow(roomID string, state *game.State) (*gameSessionRow, error) {
	players, err := json.Marshal(state.Players)
	if err != nil {
		return nil, fmt.Errorf("marshal players: %w", err)
	}
	order, err := json.Marshal(state.TurnOrder)
	if err != nil {
		return nil, fmt.Errorf("marshal turn order: %w", err)
	}

	row := &gameSessionRow{
		RoomID:              roomID,
		RoomCode:            state.RoomCode,
		Players:             players,
		CurrentTurnPlayerID: state.CurrentTurnPlayerID,
		Round:               state.Round,
		Status:              string(state.Status),
		WinnerID:            state.WinnerID,
		TurnOrder:           order,
		UpdatedAt:           time.Now(),
	}
	if state.LastBid != nil {
		bid, err := json.Marshal(state.LastBid)
		if err != nil {
			return nil, fmt.Errorf("marshal bid: %w", err)
		}
		row.LastBid = bid
	}
	return row, nil
}

func rowToSession(row gameSessionRow) (*game.State, error) {
	state := &game.State{
		RoomCode:            row.RoomCode,
		CurrentTurnPlayerID: row.CurrentTurnPlayerID,
		Round:               row.Round,
		Status:              game.Status(row.Status),
		WinnerID:            row.WinnerID,
	}
	if err := json.Unmarshal(row.Players, &state.Players); err != nil {
		return nil, fmt.Errorf("unmarshal players: %w", err)
	}
	if err := json.Unmarshal(row.TurnOrder, &state.TurnOrder); err != nil {
		return nil, fmt.Errorf("unmarshal turn order: %w", err)
	}
	if len(row.LastBid) > 0 && string(row.LastBid) != "null" {
		var bid dice.Bid
		if err := json.Unmarshal(row.LastBid, &bid); err != nil {
			return nil, fmt.Errorf("unmarshal bid: %w", err)
		}
		state.LastBid = &bid
	}
	return state, nil
}
