package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/repository"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	roomIDAlphabet    = "0123456789abcdefghijklmnopqrstuvwxyz"
	roomIDLength      = 7
	roomIDMaxAttempts = 10
)

// TicketClaims 是入场票据携带的身份。WebSocket 连接只信任票据中的字段。
type TicketClaims struct {
	RoomID string      `json:"room_id"`
	UserID string      `json:"user_id"`
	Name   string      `json:"name"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TicketRequest 申请入场票据的参数
type TicketRequest struct {
	UserID   string
	Name     string
	Role     domain.Role
	Passcode string
}

// RoomService 负责房间记录与入场票据。
type RoomService struct {
	roomRepo  repository.RoomRepository
	jwtSecret []byte
	ticketTTL time.Duration
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(roomRepo repository.RoomRepository, jwtSecretKey string, ticketTTLHours int) (*RoomService, error) {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	if jwtSecretKey == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	if ticketTTLHours <= 0 {
		ticketTTLHours = 12
	}
	return &RoomService{
		roomRepo:  roomRepo,
		jwtSecret: []byte(jwtSecretKey),
		ticketTTL: time.Duration(ticketTTLHours) * time.Hour,
	}, nil
}

// CreateRoom 分配房间号并保存房间记录。tutorPasscode 为空表示任何人都能以导师身份入场。
func (s *RoomService) CreateRoom(ctx context.Context, name, createdBy, tutorPasscode string) (*domain.Room, error) {
	name, createdBy = strings.TrimSpace(name), strings.TrimSpace(createdBy)
	if name == "" || createdBy == "" {
		return nil, fmt.Errorf("%w: room name and creator are required", ErrInvalidInput)
	}
	logCtx := logrus.WithFields(logrus.Fields{"created_by": createdBy})

	roomID, err := s.generateRoomID(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to allocate room id")
		return nil, ErrRoomIDExhausted
	}
	logCtx = logCtx.WithField("room_id", roomID)

	room := &domain.Room{
		ID:         roomID,
		Name:       name,
		CreatedBy:  createdBy,
		LastActive: time.Now().UTC(),
	}
	if tutorPasscode != "" {
		hash, err := hashPassword(tutorPasscode)
		if err != nil {
			logCtx.WithError(err).Error("Failed to hash tutor passcode")
			return nil, ErrInternalServer
		}
		room.TutorPasscodeHash = hash
	}

	if err := s.roomRepo.Save(ctx, room); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.WithError(err).Error("Room id collided after existence check")
		} else {
			logCtx.WithError(err).Error("Failed to save new room to database")
		}
		return nil, ErrInternalServer
	}

	logCtx.Info("Room created successfully")
	return room, nil
}

// FindRoomByID 查找房间记录
func (s *RoomService) FindRoomByID(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if !errors.Is(err, repository.ErrRoomNotFound) {
			logrus.WithField("room_id", roomID).WithError(err).Error("FindRoomByID: Repository error")
		}
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// IssueTicket 为进入房间签发票据。导师身份在房间设置口令时需要口令。
func (s *RoomService) IssueTicket(ctx context.Context, roomID string, req TicketRequest) (string, error) {
	req.UserID, req.Name = strings.TrimSpace(req.UserID), strings.TrimSpace(req.Name)
	if req.UserID == "" || !req.Role.Valid() {
		return "", fmt.Errorf("%w: userId and a tutor/student role are required", ErrInvalidInput)
	}
	if req.Name == "" {
		req.Name = req.UserID
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": req.UserID, "role": req.Role})

	room, err := s.FindRoomByID(ctx, roomID)
	if err != nil {
		return "", err
	}
	if req.Role == domain.RoleTutor && room.RequiresPasscode() && !checkPassword(req.Passcode, room.TutorPasscodeHash) {
		logCtx.Warn("Ticket refused: invalid tutor passcode")
		return "", ErrInvalidPasscode
	}

	now := time.Now()
	claims := TicketClaims{
		RoomID: room.ID,
		UserID: req.UserID,
		Name:   req.Name,
		Role:   req.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ticketTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		logCtx.WithError(err).Error("Failed to sign room ticket")
		return "", ErrInternalServer
	}
	logCtx.Info("Room ticket issued")
	return token, nil
}

// ParseTicket 校验签名与过期时间，返回票据中的身份
func (s *RoomService) ParseTicket(tokenStr string) (*TicketClaims, error) {
	claims := &TicketClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		logrus.WithError(err).Debug("Room ticket rejected")
		return nil, ErrInvalidTicket
	}
	if claims.RoomID == "" || claims.UserID == "" || !claims.Role.Valid() {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}

// generateRoomID 生成未被占用的 7 位 base36 房间号
func (s *RoomService) generateRoomID(ctx context.Context) (string, error) {
	b := make([]byte, roomIDLength)
	for attempt := 0; attempt < roomIDMaxAttempts; attempt++ {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for i := range b {
			b[i] = roomIDAlphabet[int(b[i])%len(roomIDAlphabet)]
		}
		id := string(b)

		exists, err := s.roomRepo.Exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("database error checking room id: %w", err)
		}
		if !exists {
			return id, nil
		}
		logrus.WithField("room_id", id).Warnf("Generated room id already exists, retrying (attempt %d)...", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique room id after %d attempts", roomIDMaxAttempts)
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to generate hash from password: %w", err)
	}
	return string(bytes), nil
}

func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
