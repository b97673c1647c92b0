// Package reply holds the user-visible text protocol: Arabic reply
// templates, the greeting set, and query normalization.
package reply

import (
	"fmt"
	"strings"

	"github.com/apkdrop/apkdrop/internal/domain"
)

// Operator identity appended to every reply.
const (
	OperatorName      = "Omar Xaraf"
	OperatorInstagram = "https://instagram.com/Omarxarafp"
	OperatorContact   = "@Omarxarafp"
)

// User-facing failure texts for lookup and fetch errors.
const (
	ErrNotFound       = "لم يتم العثور على التطبيق"
	ErrNoAppID        = "فشل في الحصول على معرف التطبيق"
	ErrBusy           = "تحميل هذا التطبيق جاري بالفعل، يرجى الانتظار"
	ErrDownloadFailed = "فشل تحميل التطبيق"
	ErrBadData        = "خطأ في معالجة البيانات"
	ErrSearchFailed   = "فشل البحث عن التطبيق"
)

// Reaction emojis for acknowledgement and completion.
const (
	ReactSearching = "🔍"
	ReactDone      = "✅"
)

// sign appends the operator signature line.
func sign(text string) string {
	return text + "\n\n_by " + OperatorContact + "_"
}

// Welcome is the static help message sent for greetings.
func Welcome(maxMB int) string {
	return "🤖 *بوت تحميل التطبيقات* 🤖\n\n" +
		"📱 *الاستخدام:* أرسل اسم التطبيق\n\n" +
		"*مثال:* واتساب، انستقرام، تيك توك، بابجي\n\n" +
		"✅ يدعم APK و XAPK (مع OBB/Data)\n" +
		fmt.Sprintf("✅ حجم حتى %dMB\n", maxMB) +
		"🎮 مثالي للألعاب: PUBG, Free Fire, COD\n\n" +
		"📦 *ملاحظة XAPK:*\n" +
		"الألعاب الكبيرة تحتاج XAPK Installer للتثبيت\n\n" +
		fmt.Sprintf("👨‍💻 *المطور:* %s\n", OperatorName) +
		fmt.Sprintf("📲 *انستقرام:* %s", OperatorInstagram) +
		"\n\n_by " + OperatorContact + "_"
}

// Failure wraps an error payload into a reply.
func Failure(reason string) string {
	return sign("❌ " + reason)
}

// GenericFailure is sent when the coordinator returns nothing at all.
func GenericFailure() string {
	return sign("❌ فشل في معالجة الطلب. حاول مرة أخرى.")
}

// ProcessingFailure is sent when an unexpected error escapes query handling.
func ProcessingFailure() string {
	return sign("❌ حدث خطأ أثناء معالجة طلبك")
}

// FileMissing is sent when the downloaded file vanished before delivery.
func FileMissing() string {
	return sign("❌ فشل العثور على الملف المحمل")
}

// TooLarge is the size-limit notice for oversized packages.
func TooLarge(res *domain.FetchResult, maxMB int) string {
	return sign("⚠️ *الملف كبير جداً!*\n\n" +
		fmt.Sprintf("📱 %s\n", res.Name) +
		fmt.Sprintf("💾 %s\n", res.Size) +
		fmt.Sprintf("⚠️ الحد الأقصى: %dMB", maxMB))
}

// AppInfo is the metadata summary sent before the document.
func AppInfo(res *domain.FetchResult) string {
	rating := res.Rating
	if rating == "" {
		rating = "N/A"
	}
	return sign("📦 *تفاصيل التطبيق*\n\n" +
		fmt.Sprintf("📱 *الاسم:* %s\n", res.Name) +
		fmt.Sprintf("📦 *الحزمة:* %s\n", res.PackageID) +
		fmt.Sprintf("🔢 *الإصدار:* %s\n", res.Version) +
		fmt.Sprintf("💾 *الحجم:* %s\n", res.Size) +
		fmt.Sprintf("⭐ *التقييم:* %s\n\n", rating) +
		"⏳ جاري التحميل...")
}

// XAPKInstructions explains how to install archive-kind packages.
func XAPKInstructions() string {
	return sign("📦 *ملف XAPK تم إرساله!*\n\n" +
		"⚠️ *مهم:* هذا الملف يحتوي على بيانات إضافية (OBB/Data)\n" +
		"مثالي للألعاب الكبيرة مثل PUBG و Free Fire\n\n" +
		"📲 *طريقة التثبيت:*\n" +
		"1️⃣ حمّل تطبيق XAPK Installer من متجر بلاي\n" +
		"2️⃣ افتح التطبيق واختر الملف المحمّل\n" +
		"3️⃣ اضغط \"تثبيت\" وانتظر اكتمال التثبيت\n\n" +
		"✅ *تطبيقات XAPK المقترحة:*\n" +
		"• XAPK Installer (الأفضل)\n" +
		"• APKPure App\n" +
		"• SAI (Split APKs Installer)")
}

// greetings that trigger the welcome reply, matched case-insensitively.
var greetings = []string{"hi", "hello", "السلام عليكم", "مرحبا"}

// IsGreeting reports whether the text is a known greeting.
func IsGreeting(text string) bool {
	lower := strings.ToLower(text)
	for _, g := range greetings {
		if lower == g {
			return true
		}
	}
	return false
}

// noiseMarkers are transport-error strings that surface as literal chat
// text; messages containing them are protocol noise, not user intent.
var noiseMarkers = []string{
	"Session error",
	"decrypt",
	"Bad MAC",
	"MessageCounterError",
}

// IsTransportNoise reports whether the text is leaked protocol-error text.
func IsTransportNoise(text string) bool {
	for _, marker := range noiseMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// CommandPrefix marks messages that are commands, not app-name queries.
const CommandPrefix = "/"
