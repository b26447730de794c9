package infra

import (
	"context"
	"errors"
	"testing"
)

func TestDevVerifier(t *testing.T) {
	v := NewDevVerifier()
	tests := []struct {
		token    string
		wantUID  string
		wantRole any
		wantErr  error
	}{
		{"r1:rider", "r1", "rider", nil},
		{"c1:customer", "c1", "customer", nil},
		{"c2:", "c2", nil, nil},
		{"nocolon", "", nil, ErrDevToken},
		{":rider", "", nil, ErrDevToken},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			tok, err := v.VerifyIDToken(context.Background(), tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tok.UID != tt.wantUID || tok.Claims["role"] != tt.wantRole {
				t.Fatalf("token = %+v", tok)
			}
		})
	}
}
