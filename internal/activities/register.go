package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ListSourcesActivity)
	w.RegisterActivity(a.TransformKindActivity)
	w.RegisterActivity(a.VerifyActivity)
	w.RegisterActivity(a.SetupSchemaActivity)
	w.RegisterActivity(a.LoadEntityKindActivity)
	w.RegisterActivity(a.LoadRelationshipsActivity)
	w.RegisterActivity(a.LinkPropertyRelationshipsActivity)
	w.RegisterActivity(a.RecordRunActivity)
}
