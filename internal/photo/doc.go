// Package photo gates uploaded child photos before a preview job is queued.
//
// A photo must be large enough, sharp, reasonably lit and contain exactly one
// face. Rejections carry a message that can be shown to the uploader as is.
package photo
