package server

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"oguogu/core/challenge"
	"oguogu/crypto"
	"oguogu/registry"
)

// GetChallenge returns one of the caller's challenges.
func (s *Server) GetChallenge(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	hash, ok := s.challengeHash(w, r)
	if !ok {
		return
	}
	ch, err := s.challenges.GetUserChallenge(r.Context(), caller, hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, challengeToDTO(ch))
}

// ListChallenges returns the caller's active challenges. A repeated
// "status" query parameter narrows the result.
func (s *Server) ListChallenges(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	statuses := []challenge.Status{challenge.StatusInit, challenge.StatusOpen}
	if requested := r.URL.Query()["status"]; len(requested) > 0 {
		statuses = statuses[:0]
		for _, raw := range requested {
			statuses = append(statuses, challenge.Status(raw))
		}
	}
	challenges, err := s.challenges.ListChallenges(r.Context(), caller, statuses)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list := challengeListDTO{Challenges: make([]challengeDTO, 0, len(challenges))}
	for _, ch := range challenges {
		list.Challenges = append(list.Challenges, challengeToDTO(ch))
	}
	s.writeJSON(w, http.StatusOK, list)
}

// CreateChallenge validates a new challenge and returns the operator
// counter-signature the caller needs for the on-ledger registration.
func (s *Server) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	var req challengeCreateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	reward, ok := new(big.Int).SetString(req.RewardAmount, 10)
	if !ok {
		http.Error(w, "invalid reward_amount", http.StatusBadRequest)
		return
	}

	ch, err := challenge.New(
		req.Nonce,
		caller.Hex(),
		reward,
		req.Title,
		crypto.ChallengeType(req.Type),
		req.StartDate.UTC(),
		req.EndDate.UTC(),
		req.MinimumActivityCount,
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sig, err := s.challenges.SignNewChallenge(r.Context(), ch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, challengeSignatureDTO{
		ChallengeHash: sig.ChallengeHash.Hex(),
		Signature:     common.Bytes2Hex(sig.Signature),
		Payload:       sig.Payload,
	})
}

// RegisterChallenge reconciles a caller-submitted creation transaction.
func (s *Server) RegisterChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRegisterDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if len(req.TransactionHash) != 66 || req.TransactionHash[:2] != "0x" {
		http.Error(w, "invalid transaction_hash", http.StatusBadRequest)
		return
	}
	if err := s.challenges.RegisterChallenge(r.Context(), common.HexToHash(req.TransactionHash)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// CompleteChallenge settles an eligible challenge on the ledger.
func (s *Server) CompleteChallenge(w http.ResponseWriter, r *http.Request) {
	hash, ok := s.challengeHash(w, r)
	if !ok {
		return
	}
	ch, err := s.rewards.CompleteChallenge(r.Context(), hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, challengeToDTO(ch))
}

// RegisterPhotoActivity grades an uploaded photo and records the
// resulting activity when accepted.
func (s *Server) RegisterPhotoActivity(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	hash, ok := s.challengeHash(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		http.Error(w, "invalid multipart payload", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("activity_file")
	if err != nil {
		http.Error(w, "activity_file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	image, err := io.ReadAll(io.LimitReader(file, s.maxUpload))
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	photo, err := registry.BuildPhotoContent(header.Header.Get("Content-Type"), image, time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	activity, err := s.activities.RegisterActivity(r.Context(), caller, hash, photo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, activityHashDTO{ActivityHash: activity.ActivityHash.Hex()})
}

// GetPhotoActivity streams the archived evidence image.
func (s *Server) GetPhotoActivity(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	hash, ok := s.challengeHash(w, r)
	if !ok {
		return
	}
	activityHash, ok := s.activityHash(w, r)
	if !ok {
		return
	}

	if _, err := s.activities.FindActivity(r.Context(), caller, hash, activityHash); err != nil {
		s.writeError(w, r, err)
		return
	}
	body, contentType, err := s.activities.StreamActivityImage(r.Context(), hash, activityHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Error("stream activity image", "err", err)
	}
}

// SubmitPhotoActivity anchors a registered activity on the ledger. The
// form carries the challenger's signature over the activity hash.
func (s *Server) SubmitPhotoActivity(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	hash, ok := s.challengeHash(w, r)
	if !ok {
		return
	}
	activityHash, ok := s.activityHash(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}
	rawSig := r.PostFormValue("activity_signature")
	if rawSig == "" {
		http.Error(w, "activity_signature is required", http.StatusBadRequest)
		return
	}
	sig, err := crypto.ParseSignature([]byte(rawSig))
	if err != nil {
		s.writeError(w, r, registry.ErrSignatureMismatch)
		return
	}

	if _, err := s.activities.SubmitActivity(r.Context(), caller, hash, activityHash, sig); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) challengeHash(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	return s.hashParam(w, r, "challengeHash")
}

func (s *Server) activityHash(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	return s.hashParam(w, r, "activityHash")
}

func (s *Server) hashParam(w http.ResponseWriter, r *http.Request, name string) (common.Hash, bool) {
	raw := chi.URLParam(r, name)
	if len(raw) != 66 || raw[:2] != "0x" {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return common.Hash{}, false
	}
	return common.HexToHash(raw), true
}
