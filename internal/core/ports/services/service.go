package services

// ServiceContainer holds instances of all the application services.
// It is the main entry point for the handlers.
type ServiceContainer struct {
	Posting PostingSvcFacade
	Accrual AccrualSvc
}
