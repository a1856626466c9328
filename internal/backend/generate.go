package backend

//go:generate mockgen -destination=mock/api.go -package=mock github.com/matheus3301/huddle/internal/backend API
