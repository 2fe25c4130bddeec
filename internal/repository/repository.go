// Package repository persists rooms, memberships and their users in
// Postgres. Mutations that need to observe a consistent room state take a
// row lock on the room and retry the whole unit of work on a serialization
// failure, the same way the teacher's message writer retried a failed batch.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dukepan/splitrooms/internal/apierr"
	"github.com/dukepan/splitrooms/internal/contextkey"
	"github.com/dukepan/splitrooms/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	maxRetries     = 5
	initialBackoff = 100 * time.Millisecond

	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
)

var txLatency metric.Float64Histogram

// RoomMutator is the live, in-progress state handed to a WithRoomLock
// callback. *RoomTx implements it; fakes used in roomservice tests
// implement it independently.
type RoomMutator interface {
	Aggregate() models.RoomAggregate
	AddMember(ctx context.Context, m models.Membership) error
	RemoveMember(ctx context.Context, userID string) error
	UpdateMemberTeam(ctx context.Context, userID string, team models.Team) error
	UpdateMemberLabels(ctx context.Context, userID string, labels []models.Label) error
	UpdateRoom(ctx context.Context, room models.Room) error
	Delete(ctx context.Context) error
}

// Repository is the persistence contract the room service depends on.
type Repository interface {
	CreateRoom(ctx context.Context, room models.Room, owner models.Membership) (models.RoomAggregate, error)
	GetRoomByID(ctx context.Context, id string) (models.RoomAggregate, error)
	GetRoomByCode(ctx context.Context, code string) (models.RoomAggregate, error)
	FindOwnedWaitingRoom(ctx context.Context, ownerID string) (models.RoomAggregate, bool, error)
	FindJoinedRoom(ctx context.Context, userID string) (models.RoomAggregate, bool, error)
	DeleteRoom(ctx context.Context, id string) error
	WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context, mutator RoomMutator) error) (models.RoomAggregate, error)
}

// PostgresRepository is the Postgres-backed Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// New opens a connection pool and installs the RLS session hook that sets
// app.user_id from the request context on every acquired connection.
func New(ctx context.Context, dsn string) (*PostgresRepository, error) {
	meter := otel.Meter("repository")
	var err error
	txLatency, err = meter.Float64Histogram("repository.transaction.latency", metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create repository.transaction.latency instrument: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	cfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		_, span := otel.Tracer("repository").Start(ctx, "repository.connection.acquire")
		defer span.End()

		if userID, ok := ctx.Value(contextkey.ContextKeyUserID).(string); ok && userID != "" {
			if _, err := conn.Exec(ctx, "SELECT set_config('app.user_id', $1, false)", userID); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to set RLS user id")
			}
		}
		return true
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() { r.pool.Close() }

func (r *PostgresRepository) Health(ctx context.Context) error { return r.pool.Ping(ctx) }

// CreateRoom inserts a new room together with its owner's membership.
func (r *PostgresRepository) CreateRoom(ctx context.Context, room models.Room, owner models.Membership) (models.RoomAggregate, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.RoomAggregate{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rulesJSON, err := json.Marshal(room.LabelRules)
	if err != nil {
		return models.RoomAggregate{}, fmt.Errorf("marshal label rules: %w", err)
	}
	divisionJSON, err := json.Marshal(room.Division)
	if err != nil {
		return models.RoomAggregate{}, fmt.Errorf("marshal division result: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO rooms (id, room_code, game_name, owner_id, status, max_members, label_rules, division_result, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		room.ID, room.RoomCode, room.GameName, room.OwnerID, room.Status, room.MaxMembers, rulesJSON, divisionJSON, room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.RoomAggregate{}, apierr.New(apierr.RoomCodeConflict, "room code already in use")
		}
		return models.RoomAggregate{}, fmt.Errorf("insert room: %w", err)
	}

	labelsJSON, err := json.Marshal(owner.Labels)
	if err != nil {
		return models.RoomAggregate{}, fmt.Errorf("marshal owner labels: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO memberships (room_id, user_id, team, labels, joined_at) VALUES ($1, $2, $3, $4, $5)`,
		room.ID, owner.UserID, owner.Team, labelsJSON, owner.JoinedAt,
	)
	if err != nil {
		return models.RoomAggregate{}, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.RoomAggregate{}, fmt.Errorf("commit: %w", err)
	}

	ownerUser, err := r.GetUser(ctx, room.OwnerID)
	if err != nil {
		return models.RoomAggregate{}, fmt.Errorf("load owner: %w", err)
	}
	owner.RoomID = room.ID
	return models.RoomAggregate{
		Room:    room,
		Owner:   ownerUser,
		Members: []models.Membership{owner},
		Users:   map[string]models.User{ownerUser.ID: ownerUser},
	}, nil
}

// GetRoomByID loads a room and its full membership by id.
func (r *PostgresRepository) GetRoomByID(ctx context.Context, id string) (models.RoomAggregate, error) {
	return r.loadAggregate(ctx, r.pool, "id = $1", id)
}

// GetRoomByCode loads a room and its full membership by its join code.
func (r *PostgresRepository) GetRoomByCode(ctx context.Context, code string) (models.RoomAggregate, error) {
	return r.loadAggregate(ctx, r.pool, "room_code = $1", code)
}

// FindOwnedWaitingRoom returns the caller's own waiting room, if any.
func (r *PostgresRepository) FindOwnedWaitingRoom(ctx context.Context, ownerID string) (models.RoomAggregate, bool, error) {
	var roomID string
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM rooms WHERE owner_id = $1 AND status = $2 LIMIT 1`,
		ownerID, models.StatusWaiting,
	).Scan(&roomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RoomAggregate{}, false, nil
	}
	if err != nil {
		return models.RoomAggregate{}, false, fmt.Errorf("find owned room: %w", err)
	}
	agg, err := r.GetRoomByID(ctx, roomID)
	if err != nil {
		return models.RoomAggregate{}, false, err
	}
	return agg, true, nil
}

// FindJoinedRoom returns a room the caller belongs to as a member but does
// not own, whether waiting or already divided.
func (r *PostgresRepository) FindJoinedRoom(ctx context.Context, userID string) (models.RoomAggregate, bool, error) {
	var roomID string
	err := r.pool.QueryRow(ctx,
		`SELECT m.room_id FROM memberships m JOIN rooms r ON r.id = m.room_id
		 WHERE m.user_id = $1 AND r.owner_id <> $1 AND r.status IN ($2, $3) LIMIT 1`,
		userID, models.StatusWaiting, models.StatusDivided,
	).Scan(&roomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RoomAggregate{}, false, nil
	}
	if err != nil {
		return models.RoomAggregate{}, false, fmt.Errorf("find joined room: %w", err)
	}
	agg, err := r.GetRoomByID(ctx, roomID)
	if err != nil {
		return models.RoomAggregate{}, false, err
	}
	return agg, true, nil
}

// DeleteRoom removes a room and, via ON DELETE CASCADE, its memberships.
func (r *PostgresRepository) DeleteRoom(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// GetUser loads a single user projection.
func (r *PostgresRepository) GetUser(ctx context.Context, userID string) (models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `SELECT id, nickname, avatar_url FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Nickname, &u.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, apierr.New(apierr.NotFound, "user not found")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// RoomTx is the in-progress unit of work handed to a WithRoomLock callback.
// Every mutating method both writes through the transaction and updates the
// in-memory aggregate, so the callback always sees consistent state.
type RoomTx struct {
	tx  pgx.Tx
	agg models.RoomAggregate
}

// Aggregate returns the room state as of the row lock being acquired, plus
// whatever mutations have been applied so far in this unit of work.
func (rt *RoomTx) Aggregate() models.RoomAggregate { return rt.agg }

func (rt *RoomTx) AddMember(ctx context.Context, m models.Membership) error {
	labelsJSON, err := json.Marshal(m.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	_, err = rt.tx.Exec(ctx,
		`INSERT INTO memberships (room_id, user_id, team, labels, joined_at) VALUES ($1, $2, $3, $4, $5)`,
		rt.agg.Room.ID, m.UserID, m.Team, labelsJSON, m.JoinedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.New(apierr.AlreadyMember, "already a member of this room")
		}
		return fmt.Errorf("add member: %w", err)
	}
	m.RoomID = rt.agg.Room.ID
	rt.agg.Members = append(rt.agg.Members, m)
	if _, ok := rt.agg.Users[m.UserID]; !ok {
		rt.agg.Users[m.UserID] = models.User{ID: m.UserID, Nickname: m.Nickname, AvatarURL: m.Avatar}
	}
	return nil
}

func (rt *RoomTx) RemoveMember(ctx context.Context, userID string) error {
	_, err := rt.tx.Exec(ctx, `DELETE FROM memberships WHERE room_id = $1 AND user_id = $2`, rt.agg.Room.ID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	kept := rt.agg.Members[:0]
	for _, m := range rt.agg.Members {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	rt.agg.Members = kept
	return nil
}

func (rt *RoomTx) UpdateMemberTeam(ctx context.Context, userID string, team models.Team) error {
	_, err := rt.tx.Exec(ctx, `UPDATE memberships SET team = $1 WHERE room_id = $2 AND user_id = $3`, team, rt.agg.Room.ID, userID)
	if err != nil {
		return fmt.Errorf("update member team: %w", err)
	}
	for i := range rt.agg.Members {
		if rt.agg.Members[i].UserID == userID {
			rt.agg.Members[i].Team = team
		}
	}
	return nil
}

func (rt *RoomTx) UpdateMemberLabels(ctx context.Context, userID string, labels []models.Label) error {
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	_, err = rt.tx.Exec(ctx, `UPDATE memberships SET labels = $1 WHERE room_id = $2 AND user_id = $3`, labelsJSON, rt.agg.Room.ID, userID)
	if err != nil {
		return fmt.Errorf("update member labels: %w", err)
	}
	for i := range rt.agg.Members {
		if rt.agg.Members[i].UserID == userID {
			rt.agg.Members[i].Labels = labels
		}
	}
	return nil
}

func (rt *RoomTx) UpdateRoom(ctx context.Context, room models.Room) error {
	rulesJSON, err := json.Marshal(room.LabelRules)
	if err != nil {
		return fmt.Errorf("marshal label rules: %w", err)
	}
	divisionJSON, err := json.Marshal(room.Division)
	if err != nil {
		return fmt.Errorf("marshal division result: %w", err)
	}
	_, err = rt.tx.Exec(ctx,
		`UPDATE rooms SET status = $1, max_members = $2, label_rules = $3, division_result = $4, updated_at = now() WHERE id = $5`,
		room.Status, room.MaxMembers, rulesJSON, divisionJSON, room.ID,
	)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	rt.agg.Room = room
	return nil
}

// Delete removes the room and, via ON DELETE CASCADE, its memberships.
func (rt *RoomTx) Delete(ctx context.Context) error {
	if _, err := rt.tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, rt.agg.Room.ID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	rt.agg.Room.Status = models.StatusClosed
	rt.agg.Members = nil
	return nil
}

// WithRoomLock loads the room under a SELECT ... FOR UPDATE row lock, runs
// fn against the live aggregate, and commits whatever fn mutated. A
// serialization failure (SQLSTATE 40001) re-runs the whole unit of work
// with exponential backoff, up to maxRetries attempts in all, the same retry shape the
// teacher used for batched message writes.
func (r *PostgresRepository) WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context, mutator RoomMutator) error) (models.RoomAggregate, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		start := time.Now()
		agg, err := r.tryWithRoomLock(ctx, roomID, fn)
		txLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		if err == nil {
			return agg, nil
		}
		if !isSerializationFailure(err) {
			return models.RoomAggregate{}, err
		}
		lastErr = err
		time.Sleep(initialBackoff * time.Duration(math.Pow(2, float64(attempt))))
	}
	return models.RoomAggregate{}, fmt.Errorf("room lock: exhausted %d retries: %w", maxRetries, lastErr)
}

func (r *PostgresRepository) tryWithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context, mutator RoomMutator) error) (models.RoomAggregate, error) {
	ctx, span := otel.Tracer("repository").Start(ctx, "repository.room_lock")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.RoomAggregate{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	agg, err := r.loadAggregate(ctx, tx, "id = $1 FOR UPDATE", roomID)
	if err != nil {
		span.RecordError(err)
		return models.RoomAggregate{}, err
	}

	rtx := &RoomTx{tx: tx, agg: agg}
	if err := fn(ctx, rtx); err != nil {
		return models.RoomAggregate{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return models.RoomAggregate{}, err
	}
	return rtx.agg, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// loadAggregate run identically inside or outside a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func (r *PostgresRepository) loadAggregate(ctx context.Context, q querier, where string, arg string) (models.RoomAggregate, error) {
	var room models.Room
	var rulesJSON []byte
	var divisionJSON []byte
	err := q.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, room_code, game_name, owner_id, status, max_members, label_rules, division_result, created_at, updated_at
		 FROM rooms WHERE %s`, where),
		arg,
	).Scan(&room.ID, &room.RoomCode, &room.GameName, &room.OwnerID, &room.Status, &room.MaxMembers, &rulesJSON, &divisionJSON, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RoomAggregate{}, apierr.New(apierr.NotFound, "room not found")
	}
	if err != nil {
		return models.RoomAggregate{}, fmt.Errorf("load room: %w", err)
	}
	var rules models.LabelRules
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &rules); err != nil {
			return models.RoomAggregate{}, fmt.Errorf("unmarshal label rules: %w", err)
		}
	}
	room.LabelRules = rules

	var division *models.DivisionResult
	if len(divisionJSON) > 0 && string(divisionJSON) != "null" {
		if err := json.Unmarshal(divisionJSON, &division); err != nil {
			return models.RoomAggregate{}, fmt.Errorf("unmarshal division result: %w", err)
		}
	}
	room.Division = division

	agg := models.RoomAggregate{Room: room, Users: map[string]models.User{}}

	err = q.QueryRow(ctx, `SELECT id, nickname, avatar_url FROM users WHERE id = $1`, room.OwnerID).
		Scan(&agg.Owner.ID, &agg.Owner.Nickname, &agg.Owner.AvatarURL)
	if err != nil {
		return models.RoomAggregate{}, fmt.Errorf("load owner: %w", err)
	}
	agg.Users[agg.Owner.ID] = agg.Owner

	rows, err := q.Query(ctx,
		`SELECT m.user_id, m.team, m.labels, m.joined_at, u.nickname, u.avatar_url
		 FROM memberships m JOIN users u ON u.id = m.user_id
		 WHERE m.room_id = $1 ORDER BY m.joined_at ASC`, room.ID,
	)
	if err != nil {
		return models.RoomAggregate{}, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m models.Membership
		var labelsJSON []byte
		if err := rows.Scan(&m.UserID, &m.Team, &labelsJSON, &m.JoinedAt, &m.Nickname, &m.Avatar); err != nil {
			return models.RoomAggregate{}, fmt.Errorf("scan member: %w", err)
		}
		m.RoomID = room.ID
		if len(labelsJSON) > 0 {
			if err := json.Unmarshal(labelsJSON, &m.Labels); err != nil {
				return models.RoomAggregate{}, fmt.Errorf("unmarshal labels: %w", err)
			}
		}
		agg.Members = append(agg.Members, m)
		agg.Users[m.UserID] = models.User{ID: m.UserID, Nickname: m.Nickname, AvatarURL: m.Avatar}
	}
	if err := rows.Err(); err != nil {
		return models.RoomAggregate{}, err
	}
	return agg, nil
}

// UserByCredential resolves a login identifier to its user id, password
// hash and display name, for internal/auth's DevProvider.
func (r *PostgresRepository) UserByCredential(ctx context.Context, identifier string) (userID, passwordHash, nickname string, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT c.user_id, c.password_hash, u.nickname FROM credentials c JOIN users u ON u.id = c.user_id WHERE c.identifier = $1`,
		identifier,
	).Scan(&userID, &passwordHash, &nickname)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", "", apierr.New(apierr.Unauthenticated, "unknown credential")
	}
	if err != nil {
		return "", "", "", fmt.Errorf("lookup credential: %w", err)
	}
	return userID, passwordHash, nickname, nil
}

// CreateUserWithCredential registers a new user and its login credential.
func (r *PostgresRepository) CreateUserWithCredential(ctx context.Context, userID, nickname, avatarURL, identifier, passwordHash string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO users (id, nickname, avatar_url) VALUES ($1, $2, $3)`, userID, nickname, avatarURL); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO credentials (identifier, user_id, password_hash) VALUES ($1, $2, $3)`, identifier, userID, passwordHash); err != nil {
		if isUniqueViolation(err) {
			return apierr.New(apierr.CredentialConflict, "credential already registered")
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateSerializationFailure
}
