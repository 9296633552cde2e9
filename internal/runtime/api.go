package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loqalabs/podcraft/internal/jobs"
	"github.com/loqalabs/podcraft/internal/podcast"
)

// Router builds the HTTP routes.
func (r *Runtime) Router() http.Handler {
	mux := chi.NewRouter()

	mux.Get("/healthz", r.handleHealth)
	mux.Get("/readyz", r.handleReady)
	if r.opts.Metrics != nil {
		mux.Handle("/metrics", r.opts.Metrics)
	}

	mux.Route("/api", func(api chi.Router) {
		api.Get("/flags", r.handleFlags)
		api.Get("/check_flags", r.handleCheckFlags)
		api.Get("/ws/flags", r.handleFlagsWS)
		api.Get("/events", r.handleEvents)

		api.Post("/generate_script", r.handleGenerateScript)
		api.Post("/generate_podcast", r.handleGeneratePodcast)
		api.Post("/interrupt", r.handleInterrupt)
		api.Post("/reset", r.handleReset)

		api.Get("/chapters", r.handleGetChapters)
		api.Put("/chapters", r.handleSetChapters)
		api.Get("/settings", r.handleGetSettings)
		api.Put("/settings", r.handleSetSettings)
		api.Get("/prompts", r.handleListPrompts)
		api.Post("/prompts/select", r.handleSelectPrompt)

		api.Get("/podcast_script", r.handleGetScript)
		api.Put("/podcast_script", r.handleSetScript)
		api.Get("/podcast_audio", r.handlePodcastAudio)
		api.Get("/podcast_audio_url", r.handlePodcastAudioURL)

		api.Get("/voices", r.handleListVoices)
		api.Post("/voices/assign", r.handleAssignVoice)

		api.Get("/jobs", r.handleListJobs)
		api.Get("/jobs/{id}/events", r.handleListJobEvents)
	})
	return mux
}

func (r *Runtime) handleFlags(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, r.opts.Runner.Snapshot())
}

func (r *Runtime) handleEvents(w http.ResponseWriter, req *http.Request) {
	since, err := queryInt64(req, "since", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	log := r.opts.Runner.Events()
	respondJSON(w, http.StatusOK, map[string]any{
		"events":   log.Since(since),
		"last_seq": log.LastSeq(),
	})
}

type generateScriptRequest struct {
	Chapters string `json:"chapters"`
}

func (r *Runtime) handleGenerateScript(w http.ResponseWriter, req *http.Request) {
	var body generateScriptRequest
	if err := decodeJSON(req, &body); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(body.Chapters) != "" {
		r.opts.Runner.SetChapters(body.Chapters)
	}
	job, err := r.opts.Runner.StartScript()
	if err != nil {
		respondJobError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

func (r *Runtime) handleGeneratePodcast(w http.ResponseWriter, _ *http.Request) {
	job, err := r.opts.Runner.StartPodcast()
	if err != nil {
		respondJobError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

func (r *Runtime) handleInterrupt(w http.ResponseWriter, _ *http.Request) {
	if err := r.opts.Runner.Interrupt(); err != nil {
		respondJobError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, r.opts.Runner.Flags())
}

func (r *Runtime) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := r.opts.Runner.Reset(); err != nil {
		respondJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.opts.Runner.Flags())
}

type chaptersBody struct {
	Chapters string `json:"chapters"`
}

func (r *Runtime) handleGetChapters(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, chaptersBody{Chapters: r.opts.Runner.Chapters()})
}

func (r *Runtime) handleSetChapters(w http.ResponseWriter, req *http.Request) {
	var body chaptersBody
	if err := decodeJSON(req, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	r.opts.Runner.SetChapters(body.Chapters)
	respondJSON(w, http.StatusOK, body)
}

func (r *Runtime) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, r.opts.Runner.Settings())
}

func (r *Runtime) handleSetSettings(w http.ResponseWriter, req *http.Request) {
	settings := r.opts.Runner.Settings()
	if err := decodeJSON(req, &settings); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := r.opts.Runner.UpdateSettings(settings); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (r *Runtime) handleListPrompts(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"prompts": r.opts.Runner.Prompts()})
}

func (r *Runtime) handleSelectPrompt(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(req, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := r.opts.Runner.SelectPrompt(body.Name); err != nil {
		respondJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleGetScript(w http.ResponseWriter, _ *http.Request) {
	lines := r.opts.Runner.Script()
	if lines == nil {
		lines = []podcast.ScriptLine{}
	}
	respondJSON(w, http.StatusOK, lines)
}

func (r *Runtime) handleSetScript(w http.ResponseWriter, req *http.Request) {
	var lines []podcast.ScriptLine
	if err := decodeJSON(req, &lines); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	for i, line := range lines {
		if line.SpeakerID <= 0 || strings.TrimSpace(line.Content) == "" {
			respondError(w, http.StatusBadRequest, "invalid_request", "line "+strconv.Itoa(i)+" needs a speaker_id and content")
			return
		}
		if line.Speaker == "" {
			lines[i].Speaker = "Speaker " + strconv.Itoa(line.SpeakerID)
		}
		if len(line.Emotion) > podcast.EmotionChannels {
			lines[i].Emotion = line.Emotion[:podcast.EmotionChannels]
		}
	}
	if err := r.opts.Runner.SetScript(lines); err != nil {
		respondJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.opts.Runner.Flags())
}

func (r *Runtime) handlePodcastAudio(w http.ResponseWriter, req *http.Request) {
	path := r.opts.Runner.OutputPath()
	if path == "" || !r.opts.Runner.Flags().PodcastAvailable {
		respondError(w, http.StatusNotFound, "no_podcast_available", "no podcast has been generated")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		respondError(w, http.StatusNotFound, "no_podcast_available", err.Error())
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeContent(w, req, info.Name(), info.ModTime(), f)
}

func (r *Runtime) handlePodcastAudioURL(w http.ResponseWriter, _ *http.Request) {
	if !r.opts.Runner.Flags().PodcastAvailable {
		respondError(w, http.StatusNotFound, "no_podcast_available", "no podcast has been generated")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": "/api/podcast_audio"})
}

type voiceInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Speakers []int  `json:"speakers,omitempty"`
}

func (r *Runtime) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	registry := r.opts.Runner.Voices()
	available, err := registry.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	names, _ := registry.Names()
	assigned := r.opts.Runner.Assignments()
	voices := make([]voiceInfo, 0, len(names))
	for _, name := range names {
		info := voiceInfo{Name: name, Path: available[name]}
		for id, voiceName := range assigned {
			if voiceName == name {
				info.Speakers = append(info.Speakers, id)
			}
		}
		voices = append(voices, info)
	}
	respondJSON(w, http.StatusOK, map[string]any{"voices": voices, "assignments": assigned})
}

type assignVoiceRequest struct {
	SpeakerID int    `json:"speaker_id"`
	Voice     string `json:"voice"`
}

func (r *Runtime) handleAssignVoice(w http.ResponseWriter, req *http.Request) {
	var body assignVoiceRequest
	if err := decodeJSON(req, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if body.SpeakerID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "speaker_id must be positive")
		return
	}
	if err := r.opts.Runner.SetVoice(body.SpeakerID, body.Voice); err != nil {
		respondJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.opts.Runner.Assignments())
}

func (r *Runtime) handleListJobs(w http.ResponseWriter, req *http.Request) {
	if r.opts.History == nil {
		respondError(w, http.StatusNotImplemented, "history_disabled", "job history is not configured")
		return
	}
	limit, err := queryInt64(req, "limit", 50)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	items, err := r.opts.History.ListJobs(req.Context(), int(limit))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": items})
}

func (r *Runtime) handleListJobEvents(w http.ResponseWriter, req *http.Request) {
	if r.opts.History == nil {
		respondError(w, http.StatusNotImplemented, "history_disabled", "job history is not configured")
		return
	}
	limit, err := queryInt64(req, "limit", 500)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	items, err := r.opts.History.ListJobEvents(req.Context(), chi.URLParam(req, "id"), int(limit))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": items})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondJobError(w http.ResponseWriter, err error) {
	code := jobs.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "busy":
		status = http.StatusConflict
	case "voice_not_found", "prompt_not_found":
		status = http.StatusNotFound
	case "no_script_available", "no_chapters", "no_running_job":
		status = http.StatusUnprocessableEntity
	case "closed":
		status = http.StatusServiceUnavailable
	}
	respondError(w, status, code, err.Error())
}

func queryInt64(r *http.Request, key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return v, nil
}

func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, host)
}
