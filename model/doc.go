// Package model defines the provider-agnostic abstraction of the Reasoning
// Service and helpers around it.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Carry multimodal conversations (text and image parts) without vendor types
//   - Facilitate deterministic tests (ScriptedModel)
//
// Providers (model/openai, model/anthropic) implement the Model interface so
// the orchestrator stays decoupled from vendor SDKs.
package model
