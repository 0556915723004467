// Package workspace manages the per-job working area under the jobs
// directory:
//
//	<jobs_dir>/<id>/config.yaml      job config handed to every worker
//	<jobs_dir>/<id>/input/           copied user files and preprocessing output
//	<jobs_dir>/<id>/output/          pipeline output and final package
//	<jobs_dir>/<id>/baseline/        discovery output when no baseline exists
//	<jobs_dir>/<id>/resolutions.json conflict resolutions for resume
//
// It also owns the uploads staging area used by the API before a job exists.
package workspace
