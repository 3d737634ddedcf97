package bot

// =============================================================================
// General messages
// =============================================================================

const (
	MsgOk            = "Ok!"
	MsgUnexpectedErr = "Unexpected error: %s"
	MsgSendPhoto     = "Send a photo (or an image file) to generate microstock metadata."
	MsgStart         = `
		Hi! I write titles, descriptions and keywords for microstock sites like Shutterstock and Adobe Stock.

		Send me a photo, then tap <b>Generate</b>.
		Tip: send the image as a file to keep full quality.`
	MsgReset = "Cleared. Send a new photo to start again."
)

// =============================================================================
// Image messages
// =============================================================================

const (
	MsgImageReceived       = "Got <b>%s</b> (%s). Tap Generate to analyze it."
	MsgImageDownloadFailed = "Could not download the image. Try sending it again."
	MsgImageNotSupported   = "That file is not an image. Send a JPG or PNG."
	MsgImageTooLarge       = "That image is too large (%s). The limit is %s."
	MsgImageStoreFailed    = "Could not keep the image for analysis. Try again."
)

// =============================================================================
// Generation messages
// =============================================================================

const (
	MsgAnalyzing        = "Analyzing image..."
	MsgAlreadyAnalyzing = "Still analyzing the current image, please wait."
	MsgNoImage          = "No image selected. Send a photo first."
	MsgResultHeader     = "Metadata ready. Tap a value to copy it."
	MsgResultCategory   = "<b>Category</b>\n<code>%s</code>"
	MsgResultTitle      = "<b>Title</b>\n<code>%s</code>"
	MsgResultDesc       = "<b>Description</b>\n<code>%s</code>"
	MsgResultKeywords   = "<b>Keywords</b> (%s)\n<code>%s</code>"
)

// =============================================================================
// Button labels and callback data
// =============================================================================

const (
	BtnGenerate   = "Generate"
	BtnRegenerate = "Regenerate"
	BtnReset      = "Reset"

	callbackGenerate = "generate"
	callbackReset    = "reset"
)
