// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/clipforge/internal/assets"
	clog "github.com/ManuGH/clipforge/internal/log"
	"github.com/ManuGH/clipforge/internal/pipeline/coordinator"
	"github.com/ManuGH/clipforge/internal/pipeline/model"
	"github.com/ManuGH/clipforge/internal/pipeline/store"
)

const maxBodyBytes = 1 << 20 // 1 MiB; request specs are small

type submitResponse struct {
	RequestID string   `json:"requestId"`
	Kind      string   `json:"kind"`
	JobIDs    []string `json:"jobIds"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var spec model.RequestSpec
	if err := dec.Decode(&spec); err != nil {
		writeBadRequest(w, "malformed request body: "+err.Error())
		return
	}

	req, err := s.Coord.Submit(r.Context(), &spec)
	if err != nil {
		var verr *coordinator.ValidationError
		if errors.As(err, &verr) {
			writeBadRequest(w, verr.Msg)
			return
		}
		logger := clog.WithContext(r.Context(), s.log)
		logger.Error().Err(err).Msg("submit failed")
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		RequestID: req.RequestID,
		Kind:      string(req.Kind),
		JobIDs:    req.JobIDs,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Coord.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w)
			return
		}
		logger := clog.WithContext(r.Context(), s.log)
		logger.Error().Err(err).Msg("status failed")
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	st, err := s.Coord.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w)
			return
		}
		logger := clog.WithContext(r.Context(), s.log)
		logger.Error().Err(err).Msg("cancel failed")
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	kind := model.AssetKind(chi.URLParam(r, "kind"))
	if _, err := s.Assets.Dir(kind); err != nil {
		writeBadRequest(w, "unknown asset kind")
		return
	}
	records := s.Assets.List(kind)
	if records == nil {
		records = []model.AssetRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleDownloadAsset(w http.ResponseWriter, r *http.Request) {
	ref := model.AssetRef{
		Kind: model.AssetKind(chi.URLParam(r, "kind")),
		ID:   chi.URLParam(r, "id"),
	}
	path, err := s.Assets.Resolve(ref)
	if err != nil {
		if errors.Is(err, assets.ErrNotFound) {
			writeNotFound(w)
			return
		}
		writeBadRequest(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}
