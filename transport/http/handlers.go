package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

// proofRequest is the body of login and link requests.
type proofRequest struct {
	Method    string `json:"method" binding:"required"`
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Email     string `json:"email"`
	Token     string `json:"token"`
	Name      string `json:"name"`
	Picture   string `json:"picture"`
}

func (r proofRequest) proof() (core.Proof, error) {
	method, err := core.ParseMethod(r.Method)
	if err != nil {
		return nil, err
	}
	if method.IsWallet() && (r.Address == "" || r.Signature == "") {
		return nil, fmt.Errorf("address and signature required: %w", core.ErrInvalidRequest)
	}

	switch method {
	case core.MethodMetamask:
		return core.MetamaskProof{Address: r.Address, Signature: r.Signature}, nil
	case core.MethodWalletConnect:
		return core.WalletConnectProof{Address: r.Address, Signature: r.Signature}, nil
	case core.MethodGoogle:
		return core.GoogleProof{
			Address:   r.Address,
			Signature: r.Signature,
			Email:     r.Email,
			Name:      r.Name,
			Picture:   r.Picture,
		}, nil
	case core.MethodEmail:
		if r.Token != "" {
			return core.EmailTokenProof{Token: r.Token}, nil
		}
		if r.Email == "" {
			return nil, fmt.Errorf("email required: %w", core.ErrInvalidRequest)
		}
		return core.EmailRequest{Email: r.Email}, nil
	default:
		return nil, core.ErrUnsupportedMethod
	}
}

func (h *AuthHandlers) tokenResponse(pair *core.TokenPair, identity *core.Identity) gin.H {
	body := gin.H{
		"success":       true,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(h.authService.AccessTTL().Seconds()),
	}
	if identity != nil {
		body["user"] = identity
	}
	return body
}

// Login handles the login request
func (h *AuthHandlers) Login(c *gin.Context) {
	var req proofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request"})
		return
	}
	proof, err := req.proof()
	if err != nil {
		abortWithError(c, err)
		return
	}

	res, err := h.authService.Authenticate(c.Request.Context(), proof)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if res.Pending {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "check your email for the login link"})
		return
	}
	c.JSON(http.StatusOK, h.tokenResponse(res.Tokens, res.Identity))
}

// VerifyEmail redeems a magic link token
func (h *AuthHandlers) VerifyEmail(c *gin.Context) {
	res, err := h.authService.ConsumeEmailProof(c.Request.Context(), c.Param("token"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.tokenResponse(res.Tokens, res.Identity))
}

// Refresh handles token refresh
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.RefreshToken == "" {
		req.RefreshToken, _ = c.Cookie("refresh_token")
	}
	if req.RefreshToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "refresh token required"})
		return
	}

	pair, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.tokenResponse(pair, nil))
}

// Logout revokes whichever token the caller presents
func (h *AuthHandlers) Logout(c *gin.Context) {
	token := requestToken(c)
	if token == "" {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = c.ShouldBindJSON(&req)
		token = req.RefreshToken
	}

	if token != "" {
		if err := h.authService.Logout(c.Request.Context(), token); err != nil {
			abortWithError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "logged out"})
}

// Challenge returns the message wallets sign to log in.
func (h *AuthHandlers) Challenge(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": h.authService.Challenge()})
}

// VerifySignature checks a signature without logging in
func (h *AuthHandlers) VerifySignature(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
		Message   string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "signature and address required"})
		return
	}

	res := h.authService.CheckSignature(req.Address, req.Signature, req.Message)
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"valid":             res.Valid,
		"recovered_address": res.Recovered,
	})
}

// Session reports the caller's session. It never fails.
func (h *AuthHandlers) Session(c *gin.Context) {
	token := requestToken(c)
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	session, identity, err := h.authService.VerifyToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user":          identity,
		"expires_at":    session.ExpiresAt.UTC().Format(time.RFC3339),
		"issued_at":     session.IssuedAt.UTC().Format(time.RFC3339),
	})
}

// ValidateSession checks a token passed in the body
func (h *AuthHandlers) ValidateSession(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "token required"})
		return
	}

	session, identity, err := h.authService.VerifyToken(c.Request.Context(), req.Token)
	if err != nil {
		if errors.Is(err, core.ErrStoreUnavailable) {
			abortWithError(c, err)
			return
		}
		_, msg := statusFor(err)
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"user":       identity,
		"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Me returns the authenticated identity
func (h *AuthHandlers) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "user": currentIdentity(c)})
}

// Link attaches another method to the authenticated identity
func (h *AuthHandlers) Link(c *gin.Context) {
	var req proofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request"})
		return
	}
	proof, err := req.proof()
	if err != nil {
		abortWithError(c, err)
		return
	}

	identity, err := h.authService.LinkMethod(c.Request.Context(), currentIdentity(c).ID, proof)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": identity})
}

type sessionView struct {
	ID        string      `json:"id"`
	Method    core.Method `json:"method,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	IsCurrent bool        `json:"is_current"`
}

// Sessions lists the live sessions of the authenticated identity
func (h *AuthHandlers) Sessions(c *gin.Context) {
	current := currentSession(c)
	sessions, err := h.authService.Sessions(c.Request.Context(), current.UserID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ID:        s.TokenID,
			Method:    s.Method,
			CreatedAt: s.CreatedAt,
			IsCurrent: s.TokenID == current.TokenID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": views})
}

// Health pings the store
func (h *AuthHandlers) Health(c *gin.Context) {
	if err := h.authService.Ping(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
