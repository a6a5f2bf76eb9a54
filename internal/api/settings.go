package api

import (
	"net/http"

	"github.com/danmuck/swiftgate/internal/credentials"
	"github.com/danmuck/swiftgate/internal/failover"
	"github.com/danmuck/swiftgate/internal/gateway"
	"github.com/danmuck/swiftgate/internal/sftp"
	"github.com/gin-gonic/gin"
)

func (s *Server) backup(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Failover.Get())
}

func (s *Server) updateBackup(c *gin.Context) {
	var u failover.Update
	if err := s.bind(c, &u); err != nil {
		fail(c, bindStatus(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "config": s.deps.Failover.Update(u)})
}

func (s *Server) testBackup(c *gin.Context) {
	res := s.deps.Failover.Test(c.Request.Context())
	c.JSON(http.StatusOK, res)
}

func (s *Server) encryption(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Credentials.Encryption())
}

func (s *Server) updateEncryption(c *gin.Context) {
	var u credentials.EncryptionUpdate
	if err := s.bind(c, &u); err != nil {
		fail(c, bindStatus(err), err.Error())
		return
	}
	enc, err := s.deps.Credentials.UpdateEncryption(u)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "config": enc})
}

func (s *Server) rotateKeys(c *gin.Context) {
	enc := s.deps.Credentials.Rotate()
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"message":         "Encryption keys rotated successfully",
		"lastKeyRotation": enc.LastKeyRotation,
		"nextKeyRotation": enc.NextKeyRotation,
	})
}

func (s *Server) tlsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Credentials.TLS())
}

func (s *Server) updateTLS(c *gin.Context) {
	var u credentials.TLSUpdate
	if err := s.bind(c, &u); err != nil {
		fail(c, bindStatus(err), err.Error())
		return
	}
	st, err := s.deps.Credentials.UpdateTLS(u)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": st})
}

func (s *Server) whitelist(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Access.State())
}

func (s *Server) updateWhitelist(c *gin.Context) {
	var u gateway.AccessUpdate
	if err := s.bind(c, &u); err != nil {
		fail(c, bindStatus(err), err.Error())
		return
	}
	st, err := s.deps.Access.Update(u)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "whitelist": st})
}

func (s *Server) sftpConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.SFTP.Config())
}

func (s *Server) updateSFTP(c *gin.Context) {
	var u sftp.Update
	if err := s.bind(c, &u); err != nil {
		fail(c, bindStatus(err), err.Error())
		return
	}
	cfg, err := s.deps.SFTP.Update(u)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg})
}

func (s *Server) testSFTP(c *gin.Context) {
	res := s.deps.SFTP.Test()
	c.JSON(http.StatusOK, res)
}

func (s *Server) sftpUpload(c *gin.Context) {
	var req sftp.UploadRequest
	if err := s.bind(c, &req); err != nil {
		fail(c, bindStatus(err), err.Error())
		return
	}
	up, err := s.deps.SFTP.RecordUpload(req)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, up)
}

func (s *Server) sftpList(c *gin.Context) {
	files, err := s.deps.SFTP.Files()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}
