// Package config loads the optional deprender.hcl settings file.
//
// The file holds the defaults a project wants for every run:
//
//	renderer {
//	  executable = env.BLENDER
//	  args       = ["--factory-startup"]
//	}
//	scheduler {
//	  workers          = 4
//	  poll_interval    = "250ms"
//	  strict_manifests = true
//	}
//	handoff {
//	  directory     = "Render Tasks/new"
//	  poll_interval = "5s"
//	}
//	notify {
//	  url       = "http://localhost:3000"
//	  namespace = "/render"
//	}
//	healthcheck { port = 8080 }
//	log {
//	  level  = "debug"
//	  format = "json"
//	}
//
// Every block and attribute is optional. Expressions can read the process
// environment through the env object. Values from the file override the
// built-in defaults; command-line flags override the file.
package config
