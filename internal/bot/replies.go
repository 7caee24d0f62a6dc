package bot

import "gigmaster/internal/event"

const helpMessage = `פקודות:
⚪ /add - הוסף זמר לרשימה
⚪ /remove - הסר זמר מהרשימה
⚪ /search - חפש הופעות לזמר
⚪ /list - הצג את רשימת החיפוש
⚪ /addcomic - הוסף סטנדאפיסט לרשימה
⚪ /removecomic - הסר סטנדאפיסט מהרשימה
⚪ /searchcomic - חפש הופעות לסטנדאפיסט
⚪ /listcomics - הצג את רשימת הסטנדאפיסטים
⚪ /cancel - בטל את הפעולה הנוכחית
⚪ /help - הצג הודעה זו

⚪ מומלץ לרשום את השם שמופיע בתמונה של ההופעה באתר של קופת תל-אביב, כיוון שלחלק מהזמרים שומרים את השם באנגלית *שיעול* נועה קירל *שיעול*`

const (
	replyCanceled        = "הפעולה בוטלה."
	replyNothingToCancel = "אין פעולה לבטל."
	replyUnknownCommand  = "לא הכרתי את הפקודה הזו. שלח /help לרשימת הפקודות."
	replyEmptyList       = "רשימת החיפוש שלך ריקה!"
	replyListFull        = "רשימת החיפוש מלאה! הסר מישהו לפני שתוסיף."
	replySomethingBroke  = "משהו השתבש, נסה שוב מאוחר יותר."
	replyUpstreamDown    = "אתר הכרטיסים לא זמין כרגע, נסה שוב מאוחר יותר."
)

func prompt(p pending) string {
	who := "זמר/ת"
	if p.cat == event.CategoryComedy {
		who = "סטנדאפיסט/ית"
	}
	switch p.act {
	case actionAdd:
		return "איזה " + who + " תרצה להוסיף?"
	case actionRemove:
		return "איזה " + who + " תרצה להסיר?"
	case actionSearch:
		return "הופעות של איזה " + who + " תרצה לחפש?"
	}
	return helpMessage
}
