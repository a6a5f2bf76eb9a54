package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

var errEmptyBody = errors.New("api: request body is empty")

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// readBody reads the raw request body under the configured cap.
func (s *Server) readBody(c *gin.Context) ([]byte, error) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("api: read body: %w", err)
	}
	return raw, nil
}

// bind decodes the body into v. An empty body leaves v untouched.
func (s *Server) bind(c *gin.Context, v any) error {
	raw, err := s.readBody(c)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return errEmptyBody
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("api: invalid json: %w", err)
	}
	return nil
}

func bindStatus(err error) int {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
