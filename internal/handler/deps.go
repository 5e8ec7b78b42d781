package handler

import (
	"collabsync/internal/app/hub"
	"collabsync/internal/configs"
)

type AppDeps struct {
	Manager *hub.Manager
	Config  *configs.AppConfig
}
