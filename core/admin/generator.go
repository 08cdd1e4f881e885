package admin

import "github.com/artpar/convey/core/route"

// GeneratorInput is what an admin controller generator receives.
type GeneratorInput struct {
	// Descriptors in discovery order, each with its linked model (or nil).
	Descriptors []*Descriptor

	// Tree is the navigation tree built from Descriptors.
	Tree *Folder
}

// Generator produces additional routes for the admin UI.
type Generator interface {
	Generate(in GeneratorInput) ([]route.Route, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(in GeneratorInput) ([]route.Route, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(in GeneratorInput) ([]route.Route, error) {
	return f(in)
}
