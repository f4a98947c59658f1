// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package hallucination

import "regexp"

// Fixed medical-knowledge reference set. Deliberately small: the detector
// is a heuristic screen, not a drug database. Unknown-but-real terms cost
// a bounded increment, they never push a text past the critical threshold
// on their own.

// knownMedications is the known-drug reference set, lowercase.
var knownMedications = map[string]struct{}{
	"lisinopril": {}, "metformin": {}, "atorvastatin": {}, "simvastatin": {},
	"amlodipine": {}, "metoprolol": {}, "omeprazole": {}, "losartan": {},
	"albuterol": {}, "gabapentin": {}, "hydrochlorothiazide": {}, "sertraline": {},
	"furosemide": {}, "insulin": {}, "warfarin": {}, "aspirin": {},
	"ibuprofen": {}, "acetaminophen": {}, "paracetamol": {}, "amoxicillin": {},
	"azithromycin": {}, "ciprofloxacin": {}, "doxycycline": {}, "penicillin": {},
	"prednisone": {}, "levothyroxine": {}, "clopidogrel": {}, "apixaban": {},
	"rivaroxaban": {}, "pantoprazole": {}, "citalopram": {}, "escitalopram": {},
	"fluoxetine": {}, "tramadol": {}, "morphine": {}, "oxycodone": {},
	"lorazepam": {}, "diazepam": {}, "alprazolam": {}, "zolpidem": {},
	"ramipril": {}, "enalapril": {}, "valsartan": {}, "carvedilol": {},
	"digoxin": {}, "spironolactone": {}, "allopurinol": {}, "montelukast": {},
	"fluticasone": {}, "salbutamol": {}, "heparin": {}, "naproxen": {},
}

// drugSuffixPattern marks a token as drug-like. Only drug-like tokens are
// checked against the reference set; ordinary prose never counts as an
// unknown medication.
var drugSuffixPattern = regexp.MustCompile(`(?i)^[a-z]{4,}(?:in|ol|ide|ine|pril|sartan|statin|mycin|cillin|azole|pam|xaban|prazole|dipine|olol)$`)

// notDrugs are common English words that match drugSuffixPattern.
var notDrugs = map[string]struct{}{
	"again": {}, "begin": {}, "within": {}, "margin": {}, "origin": {},
	"certain": {}, "captain": {}, "explain": {}, "maintain": {}, "obtain": {},
	"remain": {}, "contain": {}, "protein": {}, "vitamin": {}, "routine": {},
	"machine": {}, "medicine": {}, "decline": {}, "baseline": {}, "guideline": {},
	"combine": {}, "examine": {}, "determine": {}, "alcohol": {}, "protocol": {},
	"control": {}, "school": {}, "provide": {}, "outside": {}, "inside": {},
	"bedside": {}, "decide": {}, "beside": {}, "genuine": {}, "discipline": {},
}

// knownConditions is the recognized-condition reference set, lowercase.
var knownConditions = []string{
	"hypertension", "diabetes", "asthma", "copd", "pneumonia", "bronchitis",
	"hyperlipidemia", "hypothyroidism", "hyperthyroidism", "anemia",
	"atrial fibrillation", "heart failure", "coronary artery disease",
	"myocardial infarction", "stroke", "transient ischemic attack",
	"chronic kidney disease", "cirrhosis", "hepatitis", "pancreatitis",
	"gastroesophageal reflux", "peptic ulcer", "diverticulitis",
	"osteoarthritis", "rheumatoid arthritis", "osteoporosis", "gout",
	"depression", "anxiety", "bipolar disorder", "schizophrenia", "dementia",
	"alzheimer", "parkinson", "epilepsy", "migraine", "neuropathy",
	"sepsis", "cellulitis", "urinary tract infection", "influenza", "covid",
	"obesity", "sleep apnea", "glaucoma", "cataract", "eczema", "psoriasis",
	"cancer", "carcinoma", "lymphoma", "leukemia",
}

// medicalTerms is the vocabulary used for the term-density signal on long
// general text.
var medicalTerms = []string{
	"patient", "diagnosis", "diagnosed", "treatment", "therapy", "clinical",
	"symptom", "symptoms", "medication", "dose", "dosage", "prescribed",
	"history", "exam", "examination", "lab", "laboratory", "imaging",
	"blood", "pressure", "heart", "rate", "chronic", "acute", "condition",
	"discharge", "admission", "follow-up", "physician", "hospital",
	"surgery", "surgical", "procedure", "mg", "ml", "daily", "bid",
}

// patternRule is one "impossible or fictional content" signal.
type patternRule struct {
	re         *regexp.Regexp
	desc       string
	weight     float64
	correction string
}

// impossiblePatterns are phrase signals applied to every content type.
// Weights are bounded so no single rule exceeds the high-risk bucket; a
// critical score always requires multiple triggered signals.
var impossiblePatterns = []patternRule{
	{
		re:         regexp.MustCompile(`(?i)\b(?:movie|film|fantasy|comic|video game|fictional) (?:franchise|universe|character|disease|virus)\b`),
		desc:       "reference to fictional media content",
		weight:     0.35,
		correction: "remove references to fictional works; cite the clinical source document",
	},
	{
		re:         regexp.MustCompile(`(?i)\b(?:magical healing|healing powers|miracle cure|cured all diseases|100% cure rate|complete immunity to all)\b`),
		desc:       "impossible therapeutic claim",
		weight:     0.35,
		correction: "replace the claim with documented treatment outcomes",
	},
	{
		re:         regexp.MustCompile(`(?i)\b(?:magical|supernatural|wizard|unicorn|vampire|zombie|immortal(?:ity)?|time.?travel|telepath(?:y|ic)|vibranium|kryptonite|midi.?chlorian)\b`),
		desc:       "supernatural or impossible content",
		weight:     0.25,
		correction: "remove supernatural language from the clinical narrative",
	},
	{
		re:         regexp.MustCompile(`(?i)(?:lorem ipsum|INSERT [A-Z ]+ HERE|\[placeholder\]|\[TODO\]|XXXX+)`),
		desc:       "placeholder text left in generated content",
		weight:     0.3,
		correction: "regenerate the section; placeholder text was never replaced",
	},
	{
		re:         regexp.MustCompile(`(?i)\bas an ai (?:language )?model\b`),
		desc:       "generator self-reference leaked into the narrative",
		weight:     0.3,
		correction: "strip generator boilerplate from the summary",
	},
}

// contradictionRule flags two phrases that cannot both be true of the same
// subject.
type contradictionRule struct {
	a, b   *regexp.Regexp
	desc   string
	weight float64
}

// conditionContradictions apply to condition-typed text.
var conditionContradictions = []contradictionRule{
	{
		a:      regexp.MustCompile(`(?i)\basymptomatic\b`),
		b:      regexp.MustCompile(`(?i)\bsevere symptoms\b`),
		desc:   "asymptomatic yet severe symptoms described",
		weight: 0.3,
	},
	{
		a:      regexp.MustCompile(`(?i)\bno known allergies\b`),
		b:      regexp.MustCompile(`(?i)\ballergic reaction\b`),
		desc:   "allergy denied and described in the same text",
		weight: 0.3,
	},
	{
		a:      regexp.MustCompile(`(?i)\bafebrile\b`),
		b:      regexp.MustCompile(`(?i)\bhigh fever\b`),
		desc:   "afebrile yet febrile in the same text",
		weight: 0.3,
	},
}

// procedureContradictions flag mutually-exclusive procedure descriptors.
var procedureContradictions = []contradictionRule{
	{
		a:      regexp.MustCompile(`(?i)\boutpatient\b`),
		b:      regexp.MustCompile(`(?i)\bmajor open surgery\b`),
		desc:   "outpatient setting with major open surgery",
		weight: 0.3,
	},
	{
		a:      regexp.MustCompile(`(?i)\bminimally invasive\b`),
		b:      regexp.MustCompile(`(?i)\bopen resection\b`),
		desc:   "minimally invasive and open resection together",
		weight: 0.3,
	},
	{
		a:      regexp.MustCompile(`(?i)\bnon.?surgical\b`),
		b:      regexp.MustCompile(`(?i)\bsurgical (?:resection|repair|excision)\b`),
		desc:   "non-surgical management with a surgical procedure",
		weight: 0.3,
	},
}

// generalContradictions flag temporal or anatomical inconsistencies in
// general text.
var generalContradictions = []contradictionRule{
	{
		a:      regexp.MustCompile(`(?i)\bcongenital\b`),
		b:      regexp.MustCompile(`(?i)\b(?:acquired|developed) (?:last|this) (?:week|month|year)\b`),
		desc:   "congenital condition with recent onset",
		weight: 0.25,
	},
	{
		a:      regexp.MustCompile(`(?i)\bbilateral (?:leg|lower.?limb) amputation\b`),
		b:      regexp.MustCompile(`(?i)\bambulat(?:es|ing) independently\b`),
		desc:   "anatomically inconsistent mobility claim",
		weight: 0.25,
	},
	{
		a:      regexp.MustCompile(`(?i)\bdeceased\b`),
		b:      regexp.MustCompile(`(?i)\b(?:presents|presented) today\b`),
		desc:   "deceased subject presenting for care",
		weight: 0.25,
	},
}

// icdCandidatePattern finds tokens that look like ICD-10 codes;
// icdStrictPattern validates them. A candidate that fails strict
// validation is a malformed domain code.
var (
	icdCandidatePattern = regexp.MustCompile(`\b[A-Z]\d[A-Z0-9]{0,2}\.[A-Z0-9]{1,5}\b`)
	icdStrictPattern    = regexp.MustCompile(`^[A-TV-Z]\d[0-9A-Z](?:\.[0-9A-Z]{1,4})?$`)
)

// dosePattern extracts numeric doses with their unit for the implausible-
// dosage signal.
var dosePattern = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(mg|mcg|g|grams?)\b`)
