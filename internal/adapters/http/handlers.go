package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tabletop/internal/adapters/signal"
	"github.com/dkeye/tabletop/internal/domain"
	"github.com/dkeye/tabletop/internal/relay/gif"
	"github.com/dkeye/tabletop/internal/relay/upload"
	"github.com/dkeye/tabletop/internal/voicetoken"
)

type Uploader interface {
	Upload(ctx context.Context, filename string, data []byte) (string, error)
	MaxBytes() int64
}

type GIFSearcher interface {
	Search(ctx context.Context, q gif.Query) ([]gif.Result, error)
}

type VoiceIssuer interface {
	Issue(req voicetoken.Request) (string, error)
}

type StatusSource interface {
	ConnectionCount() int
	TokenCount() int
}

type NickRequest struct {
	Nickname string `json:"nickname" binding:"required"`
}

type NickResponse struct {
	Nickname string `json:"nickname"`
}

func handleNickname(c *gin.Context) {
	var req NickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid nickname"})
		return
	}
	nick := domain.NormalizeNickname(req.Nickname)
	s := sessions.Default(c)
	s.Set(signal.SessionNicknameKey, nick)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store nickname"})
		return
	}
	c.JSON(http.StatusOK, NickResponse{Nickname: nick})
}

func handleUpload(up Uploader) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Multipart framing adds a little on top of the file itself.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, up.MaxBytes()+64<<10)
		fh, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": upload.ErrTooLarge.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
			return
		}
		if fh.Size > up.MaxBytes() {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": upload.ErrTooLarge.Error()})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}

		url, err := up.Upload(c.Request.Context(), fh.Filename, data)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"url": url})
		case errors.Is(err, upload.ErrTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		case errors.Is(err, upload.ErrEmptyFile), errors.Is(err, upload.ErrNotImage):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, upload.ErrNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Str("module", "adapters.http").Msg("upload relay failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
	}
}

func handleGIFSearch(s GIFSearcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q gif.Query
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query: " + err.Error()})
			return
		}
		results, err := s.Search(c.Request.Context(), q)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, results)
		case errors.Is(err, gif.ErrInvalidQuery):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, gif.ErrNoProviders):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Str("module", "adapters.http").Msg("gif search failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
	}
}

func handleVoiceToken(iss VoiceIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req voicetoken.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		token, err := iss.Issue(req)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"token": token})
		case errors.Is(err, voicetoken.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, voicetoken.ErrNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Str("module", "adapters.http").Msg("voice token issue failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

func handleICE(cfg webrtc.Configuration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": cfg.ICEServers})
	}
}

func handleHealth(s StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": s.ConnectionCount(),
			"tokens":      s.TokenCount(),
		})
	}
}
