package response

import "github.com/edgard/safeline/internal/language"

const fallbackEnglish = "I'm having trouble responding right now. If you are in danger, call 112 immediately. For women's helpline, call 1091."

var fallbackMessages = map[string]string{
	"en": fallbackEnglish,
	"hi": "मुझे अभी जवाब देने में समस्या हो रही है। अगर आप खतरे में हैं, तो तुरंत 112 पर कॉल करें। महिला हेल्पलाइन के लिए 1091 पर कॉल करें।",
	"bn": "আমি এখন উত্তর দিতে সমস্যায় পড়ছি। আপনি বিপদে থাকলে এখনই 112 নম্বরে কল করুন। মহিলা হেল্পলাইনের জন্য 1091 নম্বরে কল করুন।",
	"ta": "இப்போது பதிலளிப்பதில் சிக்கல் உள்ளது. நீங்கள் ஆபத்தில் இருந்தால், உடனே 112 ஐ அழைக்கவும். பெண்கள் உதவி எண் 1091.",
	"te": "ప్రస్తుతం స్పందించడంలో సమస్య ఉంది. మీరు ప్రమాదంలో ఉంటే, వెంటనే 112 కు కాల్ చేయండి. మహిళా హెల్ప్‌లైన్ 1091.",
	"mr": "मला आत्ता उत्तर देण्यात अडचण येत आहे. तुम्ही धोक्यात असाल तर लगेच 112 वर कॉल करा. महिला हेल्पलाइनसाठी 1091 वर कॉल करा.",
}

var fallbackActionItems = []string{
	"Call 112 (emergency) or 1091 (women's helpline) now",
	"Move to a safe, public place if you can",
}

// Fallback returns the fixed safety message for languageCode, in English when
// no localized text exists.
func Fallback(languageCode string) Reply {
	msg, ok := fallbackMessages[language.Normalize(languageCode)]
	if !ok {
		msg = fallbackEnglish
	}
	return Reply{
		Response:        msg,
		ResponseEnglish: fallbackEnglish,
		ActionItems:     append([]string(nil), fallbackActionItems...),
		Tone:            ToneUrgent,
	}
}
