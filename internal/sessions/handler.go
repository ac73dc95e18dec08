package sessions

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"tgw_go/internal/httputil"
	"tgw_go/models"
	"tgw_go/pkg/qrcode"
	"tgw_go/pkg/session"
	"tgw_go/pkg/storage"
)

// Service описывает операции менеджера сессий, которые нужны HTTP-слою.
type Service interface {
	Connect(ctx context.Context, accountID string) (session.Snapshot, error)
	Status(accountID string) session.Snapshot
	Send(ctx context.Context, accountID, destination, text string) error
	CheckNumbers(ctx context.Context, accountID string, numbers []string) ([]models.NumberCheck, error)
	Groups(ctx context.Context, accountID string) ([]models.Group, error)
	GroupParticipants(ctx context.Context, accountID, groupID string) ([]models.Participant, error)
	Disconnect(ctx context.Context, accountID string) error
}

// Journal читает журнал статусов.
type Journal interface {
	GetAccountStatus(ctx context.Context, accountID string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
}

// Handler обслуживает HTTP-запросы API сессий.
type Handler struct {
	svc      Service
	journal  Journal
	logger   *zap.Logger
	renderQR func(string) (string, error)
}

func NewHandler(svc Service, journal Journal, logger *zap.Logger) *Handler {
	return &Handler{
		svc:      svc,
		journal:  journal,
		logger:   logger.Named("HTTP"),
		renderQR: qrcode.DataURL,
	}
}

type accountRequest struct {
	AccountID string `json:"account_id"`
}

type sendRequest struct {
	AccountID string `json:"account_id"`
	Phone     string `json:"phone"`
	Message   string `json:"message"`
}

type checkNumbersRequest struct {
	AccountID string   `json:"account_id"`
	Numbers   []string `json:"numbers"`
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Info("некорректное тело запроса", zap.String("path", c.FullPath()), zap.Error(err))
		httputil.RespondError(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// accountQuery достаёт account_id из query и сразу проверяет его.
func (h *Handler) accountQuery(c *gin.Context) (string, bool) {
	id := c.Query("account_id")
	if err := session.ValidateAccountID(id); err != nil {
		httputil.RespondErr(c, h.logger, err)
		return "", false
	}
	return id, true
}

// Connect запускает подключение. Повторный вызов не создаёт второй сессии.
func (h *Handler) Connect(c *gin.Context) {
	var req accountRequest
	if !h.bind(c, &req) {
		return
	}
	snap, err := h.svc.Connect(c.Request.Context(), req.AccountID)
	if err != nil {
		httputil.RespondErr(c, h.logger, err)
		return
	}
	if snap.State == session.Connected {
		c.JSON(http.StatusOK, gin.H{"success": true, "connected": true, "phone": snap.Phone})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Connecting..."})
}

// Status отдаёт снимок состояния. QR отрисовывается в картинку, сырой токен не отдаётся.
// Любой непустой account_id допустим: для неизвестного отдаётся состояние по умолчанию.
func (h *Handler) Status(c *gin.Context) {
	id := c.Query("account_id")
	if id == "" {
		httputil.RespondError(c, http.StatusBadRequest, "account_id is required")
		return
	}
	c.JSON(http.StatusOK, h.toStatus(h.svc.Status(id)))
}

func (h *Handler) toStatus(snap session.Snapshot) models.SessionStatus {
	st := models.SessionStatus{
		Connected:        snap.State == session.Connected,
		Authenticating:   snap.State == session.Initializing || snap.State == session.Authenticating,
		State:            snap.State.String(),
		ReconnectAttempt: snap.ReconnectAttempt,
	}
	if snap.QR != "" {
		img, err := h.renderQR(snap.QR)
		if err != nil {
			h.logger.Warn("QR не отрисован", zap.String("account_id", snap.AccountID), zap.Error(err))
		} else {
			st.QR = &img
		}
	}
	if snap.Phone != "" {
		phone := snap.Phone
		st.Phone = &phone
	}
	return st
}

func (h *Handler) Send(c *gin.Context) {
	var req sendRequest
	if !h.bind(c, &req) {
		return
	}
	if err := session.ValidateAccountID(req.AccountID); err != nil {
		httputil.RespondErr(c, h.logger, err)
		return
	}
	if err := h.svc.Send(c.Request.Context(), req.AccountID, req.Phone, req.Message); err != nil {
		httputil.RespondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) CheckNumbers(c *gin.Context) {
	var req checkNumbersRequest
	if !h.bind(c, &req) {
		return
	}
	numbers := lo.Compact(lo.Map(req.Numbers, func(n string, _ int) string { return strings.TrimSpace(n) }))
	results, err := h.svc.CheckNumbers(c.Request.Context(), req.AccountID, numbers)
	if err != nil {
		httputil.RespondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

func (h *Handler) Groups(c *gin.Context) {
	id, ok := h.accountQuery(c)
	if !ok {
		return
	}
	groups, err := h.svc.Groups(c.Request.Context(), id)
	if err != nil {
		httputil.RespondErr(c, h.logger, err)
		return
	}
	if groups == nil {
		groups = []models.Group{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "groups": groups})
}

func (h *Handler) GroupParticipants(c *gin.Context) {
	id, ok := h.accountQuery(c)
	if !ok {
		return
	}
	participants, err := h.svc.GroupParticipants(c.Request.Context(), id, c.Query("group_id"))
	if err != nil {
		httputil.RespondErr(c, h.logger, err)
		return
	}
	if participants == nil {
		participants = []models.Participant{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "participants": participants})
}

// Disconnect возвращается только после полного сноса сессии.
func (h *Handler) Disconnect(c *gin.Context) {
	var req accountRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.Disconnect(c.Request.Context(), req.AccountID); err != nil {
		httputil.RespondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Journal отдаёт строку журнала статусов или весь журнал.
func (h *Handler) Journal(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Query("account_id")
	if id == "" {
		accounts, err := h.journal.ListAccounts(ctx)
		if err != nil {
			httputil.RespondErr(c, h.logger, err)
			return
		}
		if accounts == nil {
			accounts = []models.Account{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "accounts": accounts})
		return
	}
	if err := session.ValidateAccountID(id); err != nil {
		httputil.RespondErr(c, h.logger, err)
		return
	}
	account, err := h.journal.GetAccountStatus(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.RespondError(c, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		httputil.RespondErr(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "account": account})
}

// Stats отдаёт сводку реестра для /health.
type Stats interface {
	Len() int
	StateCounts() map[string]int
}

// Health отвечает, пока процесс жив, и показывает число сессий.
func Health(stats Stats) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"activeSessions": stats.Len(),
			"states":         stats.StateCounts(),
		})
	}
}
