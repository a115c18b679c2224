// Package core provides the foundational domain types and interfaces of
// segmesh. It defines:
//
//   - Conversation content (Content, TextPart, ImagePart)
//   - The run model (Query, Mask, MaskSet, Round, AgentRun)
//   - Progress events (Event and its typed payloads)
//   - The error taxonomy shared by all components
//   - Small store interfaces for artifacts, images and finished runs
//   - RunContext, the per-run execution scope
//
// Implementation concerns (model providers, segmentation transport,
// persistence) live in sibling packages behind these interfaces.
package core
