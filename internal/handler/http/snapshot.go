package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/export"
	"classroom-whiteboard/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LiveSnapshots 读取房间的实时快照，由 RoomStore 实现
type LiveSnapshots interface {
	Snapshot(roomID string) (domain.Snapshot, error)
}

// SnapshotHandler 提供归档快照查询和 PDF 导出
type SnapshotHandler struct {
	snapshotService *service.SnapshotService
	live            LiveSnapshots
}

// NewSnapshotHandler 创建 SnapshotHandler 实例
func NewSnapshotHandler(snapshotService *service.SnapshotService, live LiveSnapshots) *SnapshotHandler {
	if snapshotService == nil {
		panic("SnapshotService cannot be nil for SnapshotHandler")
	}
	if live == nil {
		panic("LiveSnapshots cannot be nil for SnapshotHandler")
	}
	return &SnapshotHandler{snapshotService: snapshotService, live: live}
}

// SnapshotResponse 归档快照的响应
type SnapshotResponse struct {
	RoomID      string          `json:"roomId"`
	ObjectCount int             `json:"objectCount"`
	CreatedAt   time.Time       `json:"createdAt"`
	Snapshot    domain.Snapshot `json:"snapshot"`
}

// LatestSnapshot 处理 GET /api/rooms/:roomId/snapshots/latest
func (h *SnapshotHandler) LatestSnapshot(c *gin.Context) {
	roomID := c.Param("roomId")
	rec, snap, err := h.snapshotService.Latest(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, SnapshotResponse{
		RoomID:      roomID,
		ObjectCount: snap.Len(),
		CreatedAt:   rec.CreatedAt,
		Snapshot:    snap,
	})
}

// ExportPDF 处理 GET /api/rooms/:roomId/export.pdf。
// 房间在线时导出实时快照，否则导出最近一次归档。
func (h *SnapshotHandler) ExportPDF(c *gin.Context) {
	roomID := c.Param("roomId")
	logCtx := logrus.WithField("room_id", roomID)

	snap, err := h.live.Snapshot(roomID)
	if err != nil {
		_, snap, err = h.snapshotService.Latest(c.Request.Context(), roomID)
		if err != nil {
			if !errors.Is(err, service.ErrSnapshotNotFound) {
				logCtx.WithError(err).Error("Handler.ExportPDF: Failed to load archived snapshot")
			}
			HandleServiceError(c, err)
			return
		}
	}

	var buf bytes.Buffer
	if err := export.WritePDF(&buf, roomID, snap); err != nil {
		logCtx.WithError(err).Error("Handler.ExportPDF: Failed to render PDF")
		ErrorResponse(c, http.StatusInternalServerError, "Failed to render PDF")
		return
	}

	logCtx.WithField("objects", snap.Len()).Info("Handler.ExportPDF: Snapshot exported")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="whiteboard-%s.pdf"`, roomID))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// Health 处理 GET /api/health
func Health(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}
