package api

import (
	"net/http"

	"github.com/JaimeStill/triage/internal/audit"
	"github.com/JaimeStill/triage/internal/config"
	"github.com/JaimeStill/triage/internal/pipeline"
	"github.com/JaimeStill/triage/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) {
	intakeHandler := pipeline.NewHandler(
		domain.Pipeline,
		cfg.API.MaxUploadSizeBytes(),
		runtime.Logger,
	)

	auditHandler := audit.NewHandler(domain.Trail, runtime.Logger)

	storageHandler := newStorageHandler(runtime.Storage, runtime.Logger)

	routes.Register(
		mux,
		intakeHandler.Routes(),
		domain.Sessions.Handler().Routes(),
		auditHandler.Routes(),
		storageHandler.routes(),
	)
}
