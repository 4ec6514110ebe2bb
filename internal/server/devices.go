package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitushen/netwatch/internal/auth"
	"github.com/hitushen/netwatch/internal/models"
	"github.com/hitushen/netwatch/internal/realtime"
	"github.com/hitushen/netwatch/internal/store"
	"github.com/hitushen/netwatch/internal/targets"
)

// deviceRequest 是创建与更新设备时的请求体，指针字段缺省时取默认值。
type deviceRequest struct {
	Name           string `json:"name"`
	MAC            string `json:"macAddress"`
	Address        string `json:"ipAddress"`
	Kind           string `json:"type"`
	SiteID         int64  `json:"siteId"`
	Ports          []int  `json:"ports"`
	PingFallback   *bool  `json:"pingFallback"`
	PingCount      *int   `json:"pingCount"`
	TimeoutSeconds *int   `json:"timeoutSeconds"`
	RetryCount     *int   `json:"retryCount"`
}

// apply 校验请求并写入设备的登记字段。
func (req deviceRequest) apply(d *models.Device, defaultRetries int) error {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return errors.New("name required")
	}
	mac, err := targets.NormalizeMAC(req.MAC)
	if err != nil {
		return err
	}
	address := ""
	if raw := strings.TrimSpace(req.Address); raw != "" {
		address = targets.Normalize(raw)
		if !targets.IsValidIPv4(address) {
			return targets.ErrInvalidAddress
		}
	}
	kind := models.DeviceKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind == "" {
		kind = models.KindOther
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown device type %q", req.Kind)
	}
	seen := make(map[int]struct{}, len(req.Ports))
	for _, p := range req.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("invalid port %d", p)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("duplicate port %d", p)
		}
		seen[p] = struct{}{}
	}

	d.Name = name
	d.MAC = mac
	d.Address = address
	d.Kind = kind
	d.SiteID = req.SiteID
	d.Ports = req.Ports
	d.PingFallback = true
	if req.PingFallback != nil {
		d.PingFallback = *req.PingFallback
	}
	if req.PingCount != nil {
		if *req.PingCount < 0 {
			return errors.New("pingCount must not be negative")
		}
		d.PingCount = *req.PingCount
	}
	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds < 0 {
			return errors.New("timeoutSeconds must not be negative")
		}
		d.TimeoutSeconds = *req.TimeoutSeconds
	}
	d.RetryCount = defaultRetries
	if req.RetryCount != nil {
		if *req.RetryCount < 0 {
			return errors.New("retryCount must not be negative")
		}
		d.RetryCount = *req.RetryCount
	}
	return nil
}

func (s *Server) apiListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := store.DeviceQuery{}
	if status := strings.TrimSpace(q.Get("status")); status != "" {
		query.Status = models.Status(status)
		if !query.Status.Valid() {
			writeMessage(w, "unknown status filter", http.StatusBadRequest)
			return
		}
	}
	if site := q.Get("site"); site != "" {
		query.SiteID = int64(intParam(site, 0))
		if query.SiteID <= 0 {
			writeMessage(w, "invalid site filter", http.StatusBadRequest)
			return
		}
	}
	query.Province = strings.TrimSpace(q.Get("province"))
	query.District = strings.TrimSpace(q.Get("district"))
	if q.Get("mine") == "1" {
		sess, _ := auth.FromContext(r.Context())
		query.CreatedBy = sess.UserID
	}
	s.writeDevices(w, r, query)
}

func (s *Server) writeDevices(w http.ResponseWriter, r *http.Request, query store.DeviceQuery) {
	devices, err := s.store.ListDevices(r.Context(), query)
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []*models.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) apiGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "deviceID")
	if err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	d, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		writeErr(w, err, storeStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) apiCreateDevice(w http.ResponseWriter, r *http.Request) {
	var body deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	d := &models.Device{}
	if err := body.apply(d, s.cfg.RetryCount); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	if !s.siteExists(w, r, d.SiteID) {
		return
	}
	sess, _ := auth.FromContext(r.Context())
	d.CreatedBy = sess.UserID

	id, err := s.store.CreateDevice(r.Context(), d)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeMessage(w, "a device with this MAC address or name and IP already exists", http.StatusConflict)
			return
		}
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	created, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
	s.scanner.ScheduleDevice(id)
}

func (s *Server) apiUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "deviceID")
	if err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	var body deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	d, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		writeErr(w, err, storeStatus(err))
		return
	}
	if err := body.apply(d, s.cfg.RetryCount); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	if !s.siteExists(w, r, d.SiteID) {
		return
	}
	if err := s.store.UpdateDevice(r.Context(), d); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeMessage(w, "a device with this MAC address or name and IP already exists", http.StatusConflict)
			return
		}
		writeErr(w, err, storeStatus(err))
		return
	}
	updated, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		writeErr(w, err, storeStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, updated)
	s.scanner.ScheduleDevice(id)
}

func (s *Server) apiDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "deviceID")
	if err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	d, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		writeErr(w, err, storeStatus(err))
		return
	}
	if err := s.store.DeleteDevice(r.Context(), id); err != nil {
		writeErr(w, err, storeStatus(err))
		return
	}
	s.scanner.Forget(d)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	s.broker.Publish(realtime.Event{Type: realtime.EventDeviceDeleted, DeviceID: id, SiteID: d.SiteID})
}

func (s *Server) apiCheckDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "deviceID")
	if err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	_, verdict, err := s.scanner.CheckDevice(r.Context(), id)
	if err != nil {
		writeErr(w, err, storeStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

// siteExists 校验设备所属站点，0 表示未归属站点。
func (s *Server) siteExists(w http.ResponseWriter, r *http.Request, siteID int64) bool {
	if siteID == 0 {
		return true
	}
	if siteID < 0 {
		writeMessage(w, "invalid siteId", http.StatusBadRequest)
		return false
	}
	if _, err := s.store.GetSite(r.Context(), siteID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeMessage(w, "site not found", http.StatusBadRequest)
			return false
		}
		writeErr(w, err, http.StatusInternalServerError)
		return false
	}
	return true
}
