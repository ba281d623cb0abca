// Package auth 基于共享口令的登录与 JWT 签发。
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ashwinyue/open-dialogue/internal/config"
)

// ErrInvalidCredentials 登录凭证无效
var ErrInvalidCredentials = errors.New("invalid name or password")

// 显示名长度上限
const maxDisplayNameLen = 15

// 角色
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Service 认证服务
type Service struct {
	cfg *config.AuthConfig

	secretOnce sync.Once
	secret     string
}

// NewService 创建认证服务
func NewService(cfg *config.AuthConfig) *Service {
	return &Service{cfg: cfg}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Claims JWT 载荷
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Login 验证共享口令并签发 token。
// 名为 admin（不区分大小写）的登录者获得管理员角色，
// 使用管理员口令；其他人使用普通口令。
func (s *Service) Login(req *LoginRequest) (*LoginResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if len(name) > maxDisplayNameLen {
		name = name[:maxDisplayNameLen]
	}

	role := RoleUser
	if strings.EqualFold(name, RoleAdmin) {
		role = RoleAdmin
	}

	if s.cfg.RequirePassword {
		expected := s.cfg.UserPassword
		if role == RoleAdmin {
			expected = s.cfg.AdminPassword
		}
		if !verifyPassword(expected, req.Password) {
			return nil, ErrInvalidCredentials
		}
	}

	token, err := s.issueToken(name, role)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &LoginResponse{Token: token, Name: name, Role: role}, nil
}

// ValidateToken 校验 token 并返回载荷
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret()), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid || claims.Name == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func (s *Service) issueToken(name, role string) (string, error) {
	ttl := time.Duration(s.cfg.TokenTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := &Claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret()))
}

// jwtSecret 返回签名密钥，未配置时生成随机密钥
func (s *Service) jwtSecret() string {
	s.secretOnce.Do(func() {
		if secret := strings.TrimSpace(s.cfg.JWTSecret); secret != "" {
			s.secret = secret
			return
		}
		randomBytes := make([]byte, 32)
		if _, err := rand.Read(randomBytes); err != nil {
			panic(fmt.Sprintf("failed to generate JWT secret: %v", err))
		}
		s.secret = base64.StdEncoding.EncodeToString(randomBytes)
	})
	return s.secret
}

// verifyPassword 支持 bcrypt 哈希（$2 开头）和明文两种配置
func verifyPassword(expected, given string) bool {
	if expected == "" {
		return false
	}
	if strings.HasPrefix(expected, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(expected), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}
