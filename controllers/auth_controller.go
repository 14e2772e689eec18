package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ward-backend/services"
)

type AuthController struct {
	responder
	auth *services.AuthService
}

func NewAuthController(auth *services.AuthService, log *zap.Logger, development bool) *AuthController {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthController{responder: responder{log: log, dev: development}, auth: auth}
}

func userView(id uint, name, email, role string) gin.H {
	return gin.H{"id": id, "name": name, "email": email, "role": role}
}

func (ac *AuthController) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ac.bindError(c, err)
		return
	}
	token, u, err := ac.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		ac.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"user":    userView(u.ID, u.Name, u.Email, u.Role),
	})
}

func (ac *AuthController) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ac.bindError(c, err)
		return
	}
	u, err := ac.auth.Register(c.Request.Context(), caller(c), services.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		ac.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"user":    userView(u.ID, u.Name, u.Email, u.Role),
	})
}
