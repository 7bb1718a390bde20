// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker is the public API for decoding and encoding images
// through sandboxed codec workers.
//
// A [Loader] sniffs an input's MIME type, launches the registered
// worker for it in a sandbox, and produces an [Image]; [Image.NextFrame]
// and [Image.SpecificFrame] decode frames, converted on request to a
// caller-accepted memory format. A [Creator] buffers frames and
// settings and produces an [EncodedImage]. An [Editor] applies
// rotate/mirror/clip operations to an image file, sparsely where the
// format allows. Every Image, Creator, and Editor owns its worker
// process exclusively.
//
// All blocking operations take a context; cancellation kills the worker
// and surfaces the context's error, distinct from [Error]. Each
// operation also has an asynchronous form returning a [Pending] handle.
package broker
