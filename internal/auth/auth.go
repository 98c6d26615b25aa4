package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xtrntr/marketplace/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials hides whether the name or the password was wrong
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidParticipant wraps every rejected name or password at registration
var ErrInvalidParticipant = errors.New("invalid participant")

// Participants persists registered participants
type Participants interface {
	CreateParticipant(ctx context.Context, name, passwordHash string) (*models.Participant, error)
	GetParticipantByName(ctx context.Context, name string) (*models.Participant, error)
}

// AuthService handles participant authentication
type AuthService struct {
	participants Participants
	secret       []byte
	ttl          time.Duration
}

// NewAuthService creates a new auth service
func NewAuthService(participants Participants, secret string, ttl time.Duration) *AuthService {
	return &AuthService{participants: participants, secret: []byte(secret), ttl: ttl}
}

// Register creates a new participant with hashed password
func (s *AuthService) Register(ctx context.Context, name, password string) (*models.Participant, error) {
	// Validate input
	if name == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidParticipant)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password cannot be empty", ErrInvalidParticipant)
	}
	if len(name) > 50 {
		return nil, fmt.Errorf("%w: name too long (max 50 characters)", ErrInvalidParticipant)
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("%w: password too long (max 100 characters)", ErrInvalidParticipant)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	p, err := s.participants.CreateParticipant(ctx, name, string(hashedPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	return p, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, name, password string) (string, error) {
	p, err := s.participants.GetParticipantByName(ctx, name)
	if errors.Is(err, models.ErrParticipantNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"participant_id": p.ID,
		"name":           p.Name,
		"exp":            time.Now().Add(s.ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

// ParticipantFromToken returns the participant name a valid token was issued to
func (s *AuthService) ParticipantFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	name, ok := claims["name"].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("token has no participant name")
	}
	return name, nil
}

// MemoryParticipants keeps participants in process memory
type MemoryParticipants struct {
	mu     sync.Mutex
	byName map[string]*models.Participant
	nextID int
}

// NewMemoryParticipants creates an empty participant registry
func NewMemoryParticipants() *MemoryParticipants {
	return &MemoryParticipants{byName: make(map[string]*models.Participant), nextID: 1}
}

func (m *MemoryParticipants) CreateParticipant(ctx context.Context, name, passwordHash string) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[name]; ok {
		return nil, models.ErrNameTaken
	}
	p := &models.Participant{ID: m.nextID, Name: name, PasswordHash: passwordHash, CreatedAt: time.Now()}
	m.byName[name] = p
	m.nextID++
	cp := *p
	return &cp, nil
}

func (m *MemoryParticipants) GetParticipantByName(ctx context.Context, name string) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byName[name]
	if !ok {
		return nil, models.ErrParticipantNotFound
	}
	cp := *p
	return &cp, nil
}
