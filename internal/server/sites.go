package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hitushen/netwatch/internal/auth"
	"github.com/hitushen/netwatch/internal/models"
	"github.com/hitushen/netwatch/internal/scanner"
	"github.com/hitushen/netwatch/internal/store"
)

func (s *Server) apiListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListSites(r.Context())
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	if sites == nil {
		sites = []models.Site{}
	}
	writeJSON(w, http.StatusOK, sites)
}

func (s *Server) apiCreateSite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IndexNumber string `json:"indexNumber"`
		Name        string `json:"name"`
		Province    string `json:"province"`
		District    string `json:"district"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	site := models.Site{
		IndexNumber: strings.TrimSpace(body.IndexNumber),
		Name:        strings.TrimSpace(body.Name),
		Province:    strings.TrimSpace(body.Province),
		District:    strings.TrimSpace(body.District),
	}
	if site.IndexNumber == "" || site.Name == "" {
		writeMessage(w, "indexNumber and name required", http.StatusBadRequest)
		return
	}
	sess, _ := auth.FromContext(r.Context())
	site.CreatedBy = sess.UserID

	id, err := s.store.CreateSite(r.Context(), site)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeMessage(w, "a site with this index number already exists", http.StatusConflict)
			return
		}
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	created, err := s.store.GetSite(r.Context(), id)
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) apiDeleteSite(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "siteID")
	if err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	if err := s.store.DeleteSite(r.Context(), id); err != nil {
		writeErr(w, err, storeStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) apiListSiteDevices(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "siteID")
	if err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetSite(r.Context(), id); err != nil {
		writeErr(w, err, storeStatus(err))
		return
	}
	s.writeDevices(w, r, store.DeviceQuery{SiteID: id})
}

func (s *Server) apiScanFleet(w http.ResponseWriter, r *http.Request) {
	res, err := s.scanner.ScanNow(r.Context())
	if err != nil {
		if errors.Is(err, scanner.ErrScanInProgress) {
			writeErr(w, err, http.StatusConflict)
			return
		}
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) apiListScans(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListScans(r.Context(), intParam(r.URL.Query().Get("limit"), 20))
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.ScanRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}
