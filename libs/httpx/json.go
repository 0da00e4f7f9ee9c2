package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
)

var errEmptyBody = errors.New("empty request body")

func DecodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errEmptyBody
	}
	return sonic.ConfigStd.Unmarshal(body, v)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorBody{Error: code, Message: message})
}
